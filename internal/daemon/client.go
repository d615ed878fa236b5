package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/standardbeagle/craftd/internal/transport"
	"github.com/standardbeagle/craftd/internal/wire"
)

// ErrProtocolMismatch means the daemon speaks a different protocol
// version than this client was built for. Commands are never translated
// across versions.
var ErrProtocolMismatch = errors.New("daemon protocol version mismatch")

// Client is the command-line side of the protocol: it connects,
// performs the version handshake, issues exactly one logical command,
// consumes the expected response shape, and disconnects.
type Client struct {
	conn transport.Conn
}

// Connect dials the daemon recorded in pidFile over the given transport
// kind ("socket" or "msgqueue") and performs the version handshake,
// failing fast on a mismatch.
func Connect(pidFile, transportKind string) (*Client, error) {
	var conn transport.Conn
	var err error

	switch transportKind {
	case "", "socket":
		conn, err = transport.DialSocket(SocketPath(pidFile))
	case "msgqueue":
		conn, err = dialQueue(pidFile)
	default:
		return nil, fmt.Errorf("unknown transport %q", transportKind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	c := &Client{conn: conn}
	if err := c.checkVersion(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// checkVersion performs the frozen type-0 exchange.
func (c *Client) checkVersion() error {
	if err := c.conn.WriteFrame(wire.TypeProtocolVersion, []byte(`{}`)); err != nil {
		return fmt.Errorf("failed to send version check: %w", err)
	}

	frame, err := c.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("failed to read version response: %w", err)
	}
	if frame.Type != wire.TypeProtocolVersion {
		return ErrProtocolMismatch
	}
	// The daemon may answer the handshake with its error shape, e.g.
	// when it is at connection capacity.
	if err := serverError(frame.Payload); err != nil {
		return err
	}

	var resp wire.VersionResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return fmt.Errorf("malformed version response: %w", err)
	}
	if resp.ProtocolVersion != wire.ProtocolVersion {
		return fmt.Errorf("%w: daemon speaks version %d, client speaks %d",
			ErrProtocolMismatch, resp.ProtocolVersion, wire.ProtocolVersion)
	}
	return nil
}

// send marshals and writes one request frame.
func (c *Client) send(t wire.MessageType, req any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(t, payload)
}

// recv reads one response frame of the expected type into out,
// surfacing the protocol error shape as a Go error.
func (c *Client) recv(t wire.MessageType, out any) error {
	frame, err := c.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if frame.Type != t {
		return fmt.Errorf("unexpected response type %s, expected %s", frame.Type, t)
	}
	if err := serverError(frame.Payload); err != nil {
		return err
	}
	if err := json.Unmarshal(frame.Payload, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

// serverError surfaces the daemon's error shape if the payload carries
// one.
func serverError(payload []byte) error {
	var se wire.ServerError
	if err := json.Unmarshal(payload, &se); err == nil && se.Error != "" {
		if se.Shutdown {
			return fmt.Errorf("daemon error: %s (server shutting down)", se.Error)
		}
		return fmt.Errorf("daemon error: %s", se.Error)
	}
	return nil
}

// Stop asks the daemon to stop the server and exit. No response.
func (c *Client) Stop() error {
	return c.send(wire.TypeStop, struct{}{})
}

// Restart asks the server to restart itself. No response.
func (c *Client) Restart() error {
	return c.send(wire.TypeRestart, struct{}{})
}

// SendCommand injects a console command. No response.
func (c *Client) SendCommand(command string) error {
	return c.send(wire.TypeSendCommand, wire.SendCommandRequest{Message: command})
}

// Status fetches the full server status.
func (c *Client) Status() (*wire.StatusResponse, error) {
	if err := c.send(wire.TypeStatus, struct{}{}); err != nil {
		return nil, err
	}
	var resp wire.StatusResponse
	if err := c.recv(wire.TypeStatus, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConsoleStatus fetches the compact status-bar view.
func (c *Client) ConsoleStatus() (*wire.ConsoleStatusResponse, error) {
	if err := c.send(wire.TypeConsoleStatus, struct{}{}); err != nil {
		return nil, err
	}
	var resp wire.ConsoleStatusResponse
	if err := c.recv(wire.TypeConsoleStatus, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TabComplete fetches completions for a partial console command.
func (c *Client) TabComplete(command string) ([]string, error) {
	if err := c.send(wire.TypeTabComplete, wire.TabCompleteRequest{Command: command}); err != nil {
		return nil, err
	}
	var resp wire.TabCompleteResponse
	if err := c.recv(wire.TypeTabComplete, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// Timings starts a timings report, forwarding each progress line to
// emit until the stream terminates with done=true.
func (c *Client) Timings(emit func(message string) error) error {
	if err := c.send(wire.TypeTimings, struct{}{}); err != nil {
		return err
	}
	for {
		var resp wire.TimingsResponse
		if err := c.recv(wire.TypeTimings, &resp); err != nil {
			return err
		}
		if resp.Message != "" {
			if err := emit(resp.Message); err != nil {
				return err
			}
		}
		if resp.Done {
			return nil
		}
	}
}

// Logs subscribes to live console output for the given client PID and
// forwards each line to emit. The subscription stays open until EndLogs
// is called from another goroutine, emit returns an error, or the
// connection closes.
func (c *Client) Logs(pid int, emit func(line string) error) error {
	if err := c.send(wire.TypeLogs, wire.LogsRequest{PID: pid}); err != nil {
		return err
	}
	for {
		var resp wire.LogsResponse
		if err := c.recv(wire.TypeLogs, &resp); err != nil {
			return err
		}
		if err := emit(resp.Message); err != nil {
			return err
		}
	}
}

// EndLogs removes the log subscription for the given client PID. No
// response; the daemon stops sending and the Logs loop unblocks when
// the caller closes the connection.
func (c *Client) EndLogs(pid int) error {
	return c.send(wire.TypeEndLogs, wire.EndLogsRequest{PID: pid})
}
