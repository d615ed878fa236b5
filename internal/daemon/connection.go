package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/standardbeagle/craftd/internal/transport"
	"github.com/standardbeagle/craftd/internal/wire"
)

// connState is the per-connection protocol state.
type connState int

const (
	// awaitingVersionCheck means no successful type-0 exchange has
	// happened yet; every other message type is rejected.
	awaitingVersionCheck connState = iota
	ready
)

// Connection represents one client connection to the daemon.
type Connection struct {
	id     int64
	conn   transport.Conn
	daemon *Daemon

	state connState

	mu     sync.Mutex // protects closed, subs
	closed bool
	subs   []*LogSubscription
}

// newConnection creates a new connection handler.
func newConnection(id int64, conn transport.Conn, daemon *Daemon) *Connection {
	return &Connection{
		id:     id,
		conn:   conn,
		daemon: daemon,
	}
}

// Handle processes commands from the client until disconnect or a
// protocol violation. Responses on this connection are ordered;
// streaming log forwarders share the underlying frame writer.
func (c *Connection) Handle(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := c.conn.ReadFrame()
		if err != nil {
			if err == io.EOF || isClosedError(err) {
				return // Client disconnected
			}
			log.Printf("Client %d: read error: %v", c.id, err)
			return
		}

		if err := c.dispatch(ctx, frame); err != nil {
			log.Printf("Client %d: %v", c.id, err)
			return
		}
	}
}

// Close tears down the connection and every log subscription it owns.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.daemon.hub.Unsubscribe(sub)
	}
	return c.conn.Close()
}

// errProtocolViolation closes the connection after an error frame has
// been sent.
var errProtocolViolation = errors.New("protocol violation")

// dispatch routes one decoded frame to its handler, enforcing the
// version gate: the first command on a connection must be the version
// check, and unknown types close the connection rather than hang the
// peer.
func (c *Connection) dispatch(ctx context.Context, frame *wire.Frame) error {
	if frame.Type == wire.TypeProtocolVersion {
		return c.handleVersion()
	}

	if c.state == awaitingVersionCheck {
		c.writeError(frame.Type, "protocol mismatch: version check required before any command", false)
		return errProtocolViolation
	}

	switch frame.Type {
	case wire.TypeStop:
		return c.handleStop()
	case wire.TypeRestart:
		return c.handleRestart()
	case wire.TypeStatus:
		return c.handleStatus()
	case wire.TypeSendCommand:
		return c.handleSendCommand(frame)
	case wire.TypeTimings:
		return c.handleTimings()
	case wire.TypeLogs:
		return c.handleLogs(ctx, frame)
	case wire.TypeEndLogs:
		return c.handleEndLogs(frame)
	case wire.TypeConsoleStatus:
		return c.handleConsoleStatus()
	case wire.TypeTabComplete:
		return c.handleTabComplete(frame)
	default:
		c.writeError(frame.Type, "unknown message type", false)
		return errProtocolViolation
	}
}

// handleVersion answers the version check. The type-0 exchange is
// frozen across all protocol versions.
func (c *Connection) handleVersion() error {
	if err := c.writeJSON(wire.TypeProtocolVersion, wire.VersionResponse{
		ProtocolVersion: wire.ProtocolVersion,
	}); err != nil {
		return err
	}
	c.state = ready
	return nil
}

// Write helpers

func (c *Connection) writeJSON(t wire.MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(t, payload)
}

// writeError sends the protocol error shape on the offending type.
// Errors writing the error are ignored; the connection is closing
// anyway.
func (c *Connection) writeError(t wire.MessageType, msg string, shutdown bool) {
	payload, err := json.Marshal(wire.ServerError{Error: msg, Shutdown: shutdown})
	if err != nil {
		return
	}
	_ = c.conn.WriteFrame(t, payload)
}

// isClosedError reports whether err means the connection went away.
func isClosedError(err error) bool {
	return errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
