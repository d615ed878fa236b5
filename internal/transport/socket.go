//go:build !windows

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/standardbeagle/craftd/internal/wire"
)

// ListenBacklog is the accept backlog for the daemon socket.
const ListenBacklog = 128

// SocketMode restricts the endpoint to the owning user; filesystem
// permissions are the only access control on the channel.
const SocketMode os.FileMode = 0600

// SocketListener binds the framed protocol to a Unix domain stream
// socket at a well-known path.
type SocketListener struct {
	path string
	ln   net.Listener
}

// ListenSocket binds the socket path and starts listening.
//
// A stale socket file left behind by a dead daemon is unlinked before
// binding. If a live daemon already answers on the path, ErrAddressInUse
// is returned and startup must fail.
func ListenSocket(path string) (*SocketListener, error) {
	if _, err := os.Stat(path); err == nil {
		conn, err := net.DialTimeout("unix", path, time.Second)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrAddressInUse, path)
		}
		// Nothing is answering; the previous owner died without
		// cleaning up.
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	ln, err := listenWithBacklog(path)
	if err != nil {
		return nil, err
	}

	if err := os.Chmod(path, SocketMode); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &SocketListener{path: path, ln: ln}, nil
}

// listenWithBacklog creates the listening socket by hand so the accept
// backlog is explicit rather than the runtime default.
func listenWithBacklog(path string) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		if err == unix.EADDRINUSE {
			return nil, fmt.Errorf("%w: %s", ErrAddressInUse, path)
		}
		return nil, fmt.Errorf("failed to bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to wrap listener: %w", err)
	}
	return ln, nil
}

// Accept waits for the next client connection.
func (l *SocketListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return newFrameConn(conn), nil
}

// Close stops listening and removes the socket file.
func (l *SocketListener) Close() error {
	err := l.ln.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Addr returns the socket path.
func (l *SocketListener) Addr() string {
	return l.path
}

// DialSocket connects to a daemon socket.
func DialSocket(path string) (Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return newFrameConn(conn), nil
}

// frameConn frames a stream connection. Reads are single-consumer;
// writes are serialized so streaming handlers and responses never
// interleave partial frames.
type frameConn struct {
	conn net.Conn
	dec  *wire.Decoder

	writeMu sync.Mutex
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{
		conn: conn,
		dec:  wire.NewDecoder(conn),
	}
}

func (c *frameConn) ReadFrame() (*wire.Frame, error) {
	return c.dec.Decode()
}

// SetMaxPayload adjusts the inbound frame size ceiling.
func (c *frameConn) SetMaxPayload(n int) {
	c.dec.SetMaxPayload(uint64(n))
}

func (c *frameConn) WriteFrame(t wire.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, t, payload)
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}
