// Package wire defines the framed command protocol spoken between the
// craftd client, the daemon, and the server bridge.
//
// Every message is one frame: a 16-byte header (two big-endian 64-bit
// fields, message type then payload length) followed by the payload, a
// UTF-8 JSON document whose schema is fixed per message type. The header
// length never includes the header itself.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = 16

// DefaultMaxPayload is the default safety ceiling for payload lengths.
// A peer announcing a larger payload is treated as malformed.
const DefaultMaxPayload = 1 << 20

var (
	// ErrTruncatedFrame is returned when the peer closes the stream
	// before a full header or payload arrives.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrFrameTooLarge is returned when a header announces a payload
	// larger than the configured ceiling.
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
)

// Frame is one complete header+payload unit.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Encode produces the full wire representation of a frame.
func Encode(t MessageType, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(t))
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// WriteFrame encodes a frame and writes it to w in one call.
func WriteFrame(w io.Writer, t MessageType, payload []byte) error {
	_, err := w.Write(Encode(t, payload))
	return err
}

// Decoder reads frames from a byte stream.
type Decoder struct {
	r          io.Reader
	maxPayload uint64
}

// NewDecoder creates a decoder with the default payload ceiling.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, maxPayload: DefaultMaxPayload}
}

// SetMaxPayload overrides the payload safety ceiling.
func (d *Decoder) SetMaxPayload(n uint64) {
	d.maxPayload = n
}

// Decode reads exactly one frame, blocking until all bytes arrive.
// Returns io.EOF if the stream is cleanly closed between frames,
// ErrTruncatedFrame if it closes mid-frame, and ErrFrameTooLarge if the
// announced length exceeds the ceiling.
func (d *Decoder) Decode() (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	msgType := MessageType(binary.BigEndian.Uint64(header[0:8]))
	length := binary.BigEndian.Uint64(header[8:16])
	if length > d.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	return &Frame{Type: msgType, Payload: payload}, nil
}
