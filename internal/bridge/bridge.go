// Package bridge talks to the statistics endpoint embedded in the game
// server. The server plugin listens on a Unix socket next to the PID
// file and speaks the same framed protocol as the daemon; the daemon
// treats it as an opaque provider of status, TPS, memory, world data,
// tab completion, and timings reports.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/standardbeagle/craftd/internal/wire"
)

// ErrUnavailable is returned when the server cannot be reached or does
// not answer in time. Status callers degrade to partial data instead
// of failing.
var ErrUnavailable = errors.New("server bridge unavailable")

// DefaultTimeout bounds each bridge exchange so an unresponsive server
// never stalls a status request indefinitely.
const DefaultTimeout = 5 * time.Second

// SocketPath derives the bridge socket path from the PID file path:
// the server plugin creates `<name>-bridge.sock` next to the PID file.
func SocketPath(pidFile string) string {
	base := strings.TrimSuffix(filepath.Base(pidFile), ".pid")
	return filepath.Join(filepath.Dir(pidFile), base+"-bridge.sock")
}

// Client issues serial request/response exchanges against the bridge
// socket. Each call opens its own connection; the bridge protocol is
// not pipelined.
type Client struct {
	path    string
	timeout time.Duration
}

// New creates a bridge client for the given PID file.
func New(pidFile string) *Client {
	return &Client{path: SocketPath(pidFile), timeout: DefaultTimeout}
}

// SetTimeout overrides the per-exchange deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return conn, nil
}

// exchange sends one request frame and decodes one response into out.
func (c *Client) exchange(t wire.MessageType, req, out any) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode bridge request: %w", err)
	}
	if err := wire.WriteFrame(conn, t, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	frame, err := wire.NewDecoder(conn).Decode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(frame.Payload, out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}

// Status fetches the full server status.
func (c *Client) Status() (*wire.StatusResponse, error) {
	var resp wire.StatusResponse
	if err := c.exchange(wire.TypeStatus, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConsoleStatus fetches the compact status-bar view.
func (c *Client) ConsoleStatus() (*wire.ConsoleStatusResponse, error) {
	var resp wire.ConsoleStatusResponse
	if err := c.exchange(wire.TypeConsoleStatus, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TabComplete asks the server for completions of a partial console
// command.
func (c *Client) TabComplete(command string) (*wire.TabCompleteResponse, error) {
	var resp wire.TabCompleteResponse
	req := wire.TabCompleteRequest{Command: command}
	if err := c.exchange(wire.TypeTabComplete, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Timings starts a timings report and forwards each progress line to
// emit until the server marks the stream done. The emit callback
// receives the done=true element as well so callers can forward the
// terminator.
func (c *Client) Timings(emit func(wire.TimingsResponse) error) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.TypeTimings, []byte(`{}`)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	dec := wire.NewDecoder(conn)
	for {
		// Reports can take a while to generate; re-arm the deadline
		// per frame rather than per stream.
		conn.SetReadDeadline(time.Now().Add(c.timeout))

		frame, err := dec.Decode()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		var resp wire.TimingsResponse
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			return fmt.Errorf("failed to decode timings response: %w", err)
		}
		if err := emit(resp); err != nil {
			return err
		}
		if resp.Done {
			return nil
		}
	}
}
