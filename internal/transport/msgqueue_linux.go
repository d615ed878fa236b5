//go:build linux

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/standardbeagle/craftd/internal/wire"
)

// QueueMType is the fixed System V message type shared by both peers.
// It distinguishes protocol envelopes from anything else that might
// land on the queue.
const QueueMType = 0x7654

// envelopeDataSize is the size of the envelope body passed to
// msgsnd/msgrcv: responseChan(4) + responsePID(4) + messageType(2) +
// lengthByte(1) + message(100), padded to 4-byte alignment.
const envelopeDataSize = 112

// QueueReapInterval is how often the listener checks its peers for
// liveness.
const QueueReapInterval = time.Second

// QueueIdleTimeout reaps a peer whose reply queue still exists but that
// has exchanged nothing for this long. It is the backstop for clients
// that crashed without removing their reply queue (System V queues
// survive process death).
const QueueIdleTimeout = 5 * time.Minute

// envelope field offsets within the body.
const (
	offResponseChan = 0
	offResponsePID  = 4
	offMessageType  = 8
	offLengthByte   = 10
	offMessage      = 11
)

// envelope is one fixed-size queue message referencing the sender's
// reply queue and PID so responses can be routed back without a shared
// connection object.
type envelope struct {
	ResponseChan int32
	ResponsePID  uint32
	MessageType  int16
	LengthByte   uint8
	Message      [wire.ChunkSize]byte
}

func (e *envelope) marshal(buf *[8 + envelopeDataSize]byte) {
	binary.NativeEndian.PutUint64(buf[0:8], QueueMType)
	body := buf[8:]
	binary.NativeEndian.PutUint32(body[offResponseChan:], uint32(e.ResponseChan))
	binary.NativeEndian.PutUint32(body[offResponsePID:], e.ResponsePID)
	binary.NativeEndian.PutUint16(body[offMessageType:], uint16(e.MessageType))
	body[offLengthByte] = e.LengthByte
	copy(body[offMessage:], e.Message[:])
}

func (e *envelope) unmarshal(body []byte) error {
	if len(body) < offMessage {
		return fmt.Errorf("short queue envelope: %d bytes", len(body))
	}
	e.ResponseChan = int32(binary.NativeEndian.Uint32(body[offResponseChan:]))
	e.ResponsePID = binary.NativeEndian.Uint32(body[offResponsePID:])
	e.MessageType = int16(binary.NativeEndian.Uint16(body[offMessageType:]))
	e.LengthByte = body[offLengthByte]
	copy(e.Message[:], body[offMessage:])
	return nil
}

// QueueKey derives the System V IPC key from the PID file path the way
// ftok(3) does, so client and daemon agree without coordination.
func QueueKey(pidFile string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(pidFile, &st); err != nil {
		return 0, fmt.Errorf("failed to stat PID file %s: %w", pidFile, err)
	}
	const proj = 'c'
	key := (proj&0xff)<<24 | (int(st.Dev)&0xff)<<16 | (int(st.Ino) & 0xffff)
	return key, nil
}

func msgget(key, flag int) (int, error) {
	qid, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(flag), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(qid), nil
}

func msgsnd(qid int, e *envelope) error {
	var buf [8 + envelopeDataSize]byte
	e.marshal(&buf)
	_, _, errno := unix.Syscall6(unix.SYS_MSGSND,
		uintptr(qid), uintptr(unsafe.Pointer(&buf[0])), envelopeDataSize, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func msgrcv(qid int, e *envelope) error {
	var buf [8 + envelopeDataSize]byte
	binary.NativeEndian.PutUint64(buf[0:8], QueueMType)
	n, _, errno := unix.Syscall6(unix.SYS_MSGRCV,
		uintptr(qid), uintptr(unsafe.Pointer(&buf[0])), envelopeDataSize,
		QueueMType, 0, 0)
	if errno != 0 {
		return errno
	}
	return e.unmarshal(buf[8 : 8+n])
}

func msgRemove(qid int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(qid), unix.IPC_RMID, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// msgAlive reports whether a queue still exists. Clients remove their
// private reply queue on Close, so a vanished queue means the peer is
// gone.
func msgAlive(qid int) bool {
	// Room for struct msqid_ds on any architecture.
	var buf [256]byte
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL,
		uintptr(qid), unix.IPC_STAT, uintptr(unsafe.Pointer(&buf[0])))
	return errno == 0
}

// queueClosed reports whether a syscall error means the queue was
// removed out from under us, which is how Close unblocks the receive
// loop.
func queueClosed(err error) bool {
	return errors.Is(err, unix.EIDRM) || errors.Is(err, unix.EINVAL)
}

// QueueListener binds the framed protocol to a System V message queue.
// Each distinct (reply queue, PID) sender appears as its own Conn. A
// peer's lifetime ends when it closes its reply queue (the reaper
// notices within QueueReapInterval), when it goes idle past
// QueueIdleTimeout, or when either side calls Close.
type QueueListener struct {
	qid     int
	pidFile string

	accepts chan *queueConn
	done    chan struct{}

	mu     sync.Mutex
	peers  map[uint64]*queueConn
	closed bool
}

// ListenQueue creates the daemon's message queue, keyed from the PID
// file path. An existing queue under the key is assumed stale and
// replaced: callers must have established ownership of the PID file
// (the liveness record) before binding.
func ListenQueue(pidFile string) (*QueueListener, error) {
	key, err := QueueKey(pidFile)
	if err != nil {
		return nil, err
	}

	qid, err := msgget(key, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("failed to create message queue: %w", err)
		}
		// Leftover queue from a dead daemon; replace it so no stale
		// fragments survive into this incarnation.
		if old, statErr := msgget(key, 0); statErr == nil {
			_ = msgRemove(old)
		}
		qid, err = msgget(key, unix.IPC_CREAT|unix.IPC_EXCL|0600)
		if err != nil {
			return nil, fmt.Errorf("failed to create message queue: %w", err)
		}
	}

	l := &QueueListener{
		qid:     qid,
		pidFile: pidFile,
		accepts: make(chan *queueConn, 16),
		done:    make(chan struct{}),
		peers:   make(map[uint64]*queueConn),
	}
	go l.receiveLoop()
	go l.reapLoop()
	return l, nil
}

func peerKey(respChan int32, pid uint32) uint64 {
	return uint64(uint32(respChan))<<32 | uint64(pid)
}

// receiveLoop reads envelopes, reassembles fragments per sender, and
// delivers complete frames to the sender's virtual connection.
// Fragments for one logical message never interleave on the queue; the
// protocol is serial request/response per peer.
func (l *QueueListener) receiveLoop() {
	for {
		var e envelope
		if err := msgrcv(l.qid, &e); err != nil {
			if errors.Is(err, unix.EINTR) && !l.isClosed() {
				continue
			}
			l.shutdownPeers()
			return
		}

		conn := l.peer(e.ResponseChan, e.ResponsePID)
		if conn == nil {
			continue
		}
		conn.lastSeen.Store(time.Now().UnixNano())

		done, err := conn.asm.Add(e.LengthByte, e.Message[:])
		if err != nil {
			conn.asm.Reset()
			continue
		}
		if !done {
			continue
		}

		payload := make([]byte, len(conn.asm.Payload()))
		copy(payload, conn.asm.Payload())
		conn.asm.Reset()

		l.deliver(conn, &wire.Frame{
			Type:    wire.MessageType(uint64(uint16(e.MessageType))),
			Payload: payload,
		})
	}
}

// reapLoop tears down peers whose reply queue is gone or that have been
// idle too long, so every queue client has a bounded lifetime on the
// daemon side.
func (l *QueueListener) reapLoop() {
	ticker := time.NewTicker(QueueReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		now := time.Now().UnixNano()
		for key, conn := range l.peersSnapshot() {
			if !msgAlive(conn.sendQID) || now-conn.lastSeen.Load() > int64(QueueIdleTimeout) {
				l.closePeer(key, conn)
			}
		}
	}
}

func (l *QueueListener) peersSnapshot() map[uint64]*queueConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := make(map[uint64]*queueConn, len(l.peers))
	for key, conn := range l.peers {
		snap[key] = conn
	}
	return snap
}

// peer returns the virtual connection for a sender, creating and
// announcing it on first contact.
func (l *QueueListener) peer(respChan int32, pid uint32) *queueConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}

	key := peerKey(respChan, pid)
	if conn, ok := l.peers[key]; ok {
		return conn
	}

	conn := &queueConn{
		sendQID: int(respChan),
		pid:     pid,
		inbox:   make(chan *wire.Frame, 64),
	}
	conn.lastSeen.Store(time.Now().UnixNano())
	conn.onClose = func() { l.closePeer(key, conn) }
	l.peers[key] = conn

	select {
	case l.accepts <- conn:
	default:
		// Accept backlog full; the peer will be announced by its
		// next message instead.
		delete(l.peers, key)
		return nil
	}
	return conn
}

// deliver hands a complete frame to a peer unless it was already torn
// down. Sends never block: a peer that is not consuming loses the
// frame rather than stalling the whole queue.
func (l *QueueListener) deliver(conn *queueConn, frame *wire.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conn.closedPeer {
		return
	}
	select {
	case conn.inbox <- frame:
	default:
	}
}

// closePeer removes one peer and closes its inbox, unblocking its
// reader with EOF. Idempotent per conn; the key is only dropped when it
// still maps to this conn, so a reused queue ID cannot evict a newer
// peer.
func (l *QueueListener) closePeer(key uint64, conn *queueConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peers[key] == conn {
		delete(l.peers, key)
	}
	if conn.closedPeer {
		return
	}
	conn.closedPeer = true
	close(conn.inbox)
}

func (l *QueueListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// shutdownPeers tears everything down when the receive loop exits. It
// runs exactly once, so closing the accept and done channels here is
// safe even if Close already marked the listener closed.
func (l *QueueListener) shutdownPeers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	close(l.accepts)
	close(l.done)
	for key, conn := range l.peers {
		delete(l.peers, key)
		if !conn.closedPeer {
			conn.closedPeer = true
			close(conn.inbox)
		}
	}
}

// Accept returns the next newly seen sender as a Conn.
func (l *QueueListener) Accept() (Conn, error) {
	conn, ok := <-l.accepts
	if !ok {
		return nil, ErrClosed
	}
	return conn, nil
}

// Close removes the queue; the receive loop unblocks with EIDRM and
// tears down every peer.
func (l *QueueListener) Close() error {
	l.mu.Lock()
	closed := l.closed
	l.closed = true
	l.mu.Unlock()
	if closed {
		return nil
	}
	return msgRemove(l.qid)
}

// Addr describes the queue endpoint.
func (l *QueueListener) Addr() string {
	return fmt.Sprintf("sysv-msgqueue(%d)", l.qid)
}

// queueConn is the daemon-side view of one queue peer.
type queueConn struct {
	sendQID  int
	pid      uint32
	inbox    chan *wire.Frame
	asm      wire.Reassembler
	lastSeen atomic.Int64 // unix nanos of the last exchange

	// closedPeer is guarded by the listener's mu; it keeps deliver and
	// closePeer from racing on the inbox channel.
	closedPeer bool

	writeMu   sync.Mutex
	onClose   func()
	closeOnce sync.Once
}

func (c *queueConn) ReadFrame() (*wire.Frame, error) {
	frame, ok := <-c.inbox
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (c *queueConn) WriteFrame(t wire.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.lastSeen.Store(time.Now().UnixNano())
	return sendChunked(c.sendQID, c.sendQID, c.pid, t, payload)
}

func (c *queueConn) Close() error {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// sendChunked splits a payload into envelopes and sends them in order
// on one queue.
func sendChunked(qid, respChan int, respPID uint32, t wire.MessageType, payload []byte) error {
	for _, chunk := range wire.SplitPayload(payload) {
		e := envelope{
			ResponseChan: int32(respChan),
			ResponsePID:  respPID,
			MessageType:  int16(t),
			LengthByte:   chunk.LengthByte(),
		}
		copy(e.Message[:], chunk.Data)
		if err := msgsnd(qid, &e); err != nil {
			if queueClosed(err) {
				return ErrClosed
			}
			return fmt.Errorf("failed to send queue message: %w", err)
		}
	}
	return nil
}

// DialQueue connects to a daemon's message queue. The client creates a
// private reply queue and advertises it in every envelope it sends;
// removing the reply queue on Close is what tells the daemon the peer
// is gone.
func DialQueue(pidFile string) (Conn, error) {
	key, err := QueueKey(pidFile)
	if err != nil {
		return nil, err
	}

	qid, err := msgget(key, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("no daemon message queue for %s: %w", pidFile, err)
		}
		return nil, fmt.Errorf("failed to open message queue: %w", err)
	}

	replyQID, err := msgget(unix.IPC_PRIVATE, unix.IPC_CREAT|0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply queue: %w", err)
	}

	return &queueClientConn{
		daemonQID: qid,
		replyQID:  replyQID,
		pid:       uint32(os.Getpid()),
	}, nil
}

// queueClientConn is the client-side view: requests go to the daemon
// queue, responses come back on the private reply queue.
type queueClientConn struct {
	daemonQID int
	replyQID  int
	pid       uint32

	writeMu sync.Mutex
	asm     wire.Reassembler
}

func (c *queueClientConn) ReadFrame() (*wire.Frame, error) {
	for {
		var e envelope
		if err := msgrcv(c.replyQID, &e); err != nil {
			if queueClosed(err) {
				return nil, io.EOF
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("failed to receive queue message: %w", err)
		}

		done, err := c.asm.Add(e.LengthByte, e.Message[:])
		if err != nil {
			c.asm.Reset()
			return nil, err
		}
		if !done {
			continue
		}

		payload := make([]byte, len(c.asm.Payload()))
		copy(payload, c.asm.Payload())
		c.asm.Reset()
		return &wire.Frame{Type: wire.MessageType(uint64(uint16(e.MessageType))), Payload: payload}, nil
	}
}

func (c *queueClientConn) WriteFrame(t wire.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sendChunked(c.daemonQID, c.replyQID, c.pid, t, payload)
}

func (c *queueClientConn) Close() error {
	return msgRemove(c.replyQID)
}
