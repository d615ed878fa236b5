// Package transport provides the local channel bindings the framed
// protocol runs over: a Unix domain stream socket, or a System V
// message queue keyed from the PID file path. Both deliver complete,
// ordered frames per logical exchange; the codec and dispatcher never
// branch on transport kind.
package transport

import (
	"errors"

	"github.com/standardbeagle/craftd/internal/wire"
)

var (
	// ErrAddressInUse is returned when the transport endpoint is
	// already owned by a live daemon.
	ErrAddressInUse = errors.New("transport endpoint already in use")
	// ErrClosed is returned for operations on a closed listener or
	// connection.
	ErrClosed = errors.New("transport closed")
)

// Conn is one logical peer exchange: a stream of complete frames in
// each direction, delivered whole and in order.
type Conn interface {
	// ReadFrame blocks until a full frame arrives.
	ReadFrame() (*wire.Frame, error)
	// WriteFrame sends one complete frame.
	WriteFrame(t wire.MessageType, payload []byte) error
	Close() error
}

// Listener accepts peer exchanges.
type Listener interface {
	// Accept blocks until a new peer connects (socket) or a new
	// sender appears on the queue.
	Accept() (Conn, error)
	Close() error
	// Addr describes the endpoint for logging.
	Addr() string
}
