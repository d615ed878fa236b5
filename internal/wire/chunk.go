package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// ChunkSize is the fixed data capacity of one queue-transport envelope.
const ChunkSize = 100

// FinalFragmentBit marks the last chunk of a logical payload in the
// envelope length byte; the low seven bits carry the chunk length.
const FinalFragmentBit = 0x80

// ErrChunkAfterFinal is returned when a fragment arrives on a
// reassembler that already saw its final fragment.
var ErrChunkAfterFinal = errors.New("fragment received after final fragment")

// Chunk is one ≤100-byte fragment of a logical payload.
type Chunk struct {
	Data  []byte
	Final bool
}

// LengthByte packs the chunk length and final-fragment flag into the
// envelope's length field.
func (c Chunk) LengthByte() uint8 {
	b := uint8(len(c.Data))
	if c.Final {
		b |= FinalFragmentBit
	}
	return b
}

// SplitPayload chunks a payload into ≤100-byte fragments with the final
// bit set on exactly the last one. An empty payload still yields one
// final zero-length chunk, so every logical message produces at least
// one envelope.
func SplitPayload(payload []byte) []Chunk {
	if len(payload) == 0 {
		return []Chunk{{Final: true}}
	}

	chunks := make([]Chunk, 0, (len(payload)+ChunkSize-1)/ChunkSize)
	for len(payload) > ChunkSize {
		chunks = append(chunks, Chunk{Data: payload[:ChunkSize]})
		payload = payload[ChunkSize:]
	}
	return append(chunks, Chunk{Data: payload, Final: true})
}

// Reassembler accumulates fragments of one logical payload. Fragments
// must arrive in send order; the design assumes serial request/response
// per queue, not pipelining.
type Reassembler struct {
	buf  bytes.Buffer
	done bool
}

// Add appends one fragment. The length byte is validated against the
// chunk capacity. Returns true once the final fragment has been added.
func (r *Reassembler) Add(lengthByte uint8, data []byte) (bool, error) {
	if r.done {
		return true, ErrChunkAfterFinal
	}

	n := int(lengthByte &^ FinalFragmentBit)
	if n > ChunkSize || n > len(data) {
		return false, fmt.Errorf("invalid fragment length %d", n)
	}

	r.buf.Write(data[:n])
	if lengthByte&FinalFragmentBit != 0 {
		r.done = true
	}
	return r.done, nil
}

// Payload returns the reassembled bytes. Only meaningful once Add has
// reported completion.
func (r *Reassembler) Payload() []byte {
	return r.buf.Bytes()
}

// Reset clears the reassembler for the next logical message.
func (r *Reassembler) Reset() {
	r.buf.Reset()
	r.done = false
}
