package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/standardbeagle/craftd/internal/supervisor"
	"github.com/standardbeagle/craftd/internal/wire"
)

// handleStop stops the server. Fire-and-forget: the client gets no
// response. The daemon itself exits once the server's run loop returns.
func (c *Connection) handleStop() error {
	go func() {
		if err := c.daemon.sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			log.Printf("Stop requested by client %d: %v", c.id, err)
		}
	}()
	return nil
}

// handleRestart asks the server to restart itself. The server exits
// with the restart code and the supervisor respawns it. Fire-and-forget.
func (c *Connection) handleRestart() error {
	if err := c.daemon.sup.Restart(); err != nil {
		log.Printf("Restart requested by client %d: %v", c.id, err)
	}
	return nil
}

// handleStatus answers with full server status. An unreachable bridge
// degrades to partial fields rather than failing the response; a server
// that is not running at all gets the error shape with shutdown set.
func (c *Connection) handleStatus() error {
	if !c.daemon.sup.Snapshot().Running {
		c.writeError(wire.TypeStatus, "server is not running", true)
		return nil
	}

	status, err := c.daemon.bridge.Status()
	if err != nil {
		log.Printf("Status: bridge unavailable: %v", err)
		status = &wire.StatusResponse{}
	}
	return c.writeJSON(wire.TypeStatus, status)
}

// handleConsoleStatus answers with the compact status-bar view.
func (c *Connection) handleConsoleStatus() error {
	if !c.daemon.sup.Snapshot().Running {
		c.writeError(wire.TypeConsoleStatus, "server is not running", true)
		return nil
	}

	status, err := c.daemon.bridge.ConsoleStatus()
	if err != nil {
		log.Printf("Console status: bridge unavailable: %v", err)
		status = &wire.ConsoleStatusResponse{}
	}
	return c.writeJSON(wire.TypeConsoleStatus, status)
}

// handleSendCommand injects a console command into the server.
// Fire-and-forget.
func (c *Connection) handleSendCommand(frame *wire.Frame) error {
	var req wire.SendCommandRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.writeError(wire.TypeSendCommand, "malformed send-command payload", false)
		return errProtocolViolation
	}

	if err := c.daemon.sup.SendCommand(req.Message); err != nil {
		log.Printf("Send command from client %d: %v", c.id, err)
	}
	return nil
}

// handleTabComplete asks the server for console command completions.
func (c *Connection) handleTabComplete(frame *wire.Frame) error {
	var req wire.TabCompleteRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.writeError(wire.TypeTabComplete, "malformed tab-complete payload", false)
		return errProtocolViolation
	}

	resp, err := c.daemon.bridge.TabComplete(req.Command)
	if err != nil {
		log.Printf("Tab complete: bridge unavailable: %v", err)
		resp = &wire.TabCompleteResponse{Suggestions: []string{}}
	}
	return c.writeJSON(wire.TypeTabComplete, resp)
}

// handleTimings streams timings report progress until the server marks
// it done. The stream always terminates with exactly one done=true.
func (c *Connection) handleTimings() error {
	err := c.daemon.bridge.Timings(func(resp wire.TimingsResponse) error {
		return c.writeJSON(wire.TypeTimings, resp)
	})
	if err == nil {
		return nil
	}

	log.Printf("Timings: %v", err)
	// The bridge never produced the terminator; synthesize one so the
	// client does not hang.
	return c.writeJSON(wire.TypeTimings, wire.TimingsResponse{
		Message: "timings report unavailable: server unreachable",
		Done:    true,
	})
}

// handleLogs opens a log subscription for the requesting client PID and
// forwards live console lines until end-logs or disconnect. The read
// loop keeps running so the end-logs command can arrive on the same
// connection.
func (c *Connection) handleLogs(ctx context.Context, frame *wire.Frame) error {
	var req wire.LogsRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.writeError(wire.TypeLogs, "malformed logs payload", false)
		return errProtocolViolation
	}

	sub := c.daemon.hub.Subscribe(req.PID)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.daemon.hub.Unsubscribe(sub)
				return
			case line, ok := <-sub.Lines():
				if !ok {
					return // end-logs or connection teardown
				}
				if err := c.writeJSON(wire.TypeLogs, wire.LogsResponse{Message: line}); err != nil {
					c.daemon.hub.Unsubscribe(sub)
					return
				}
			}
		}
	}()
	return nil
}

// handleEndLogs tears down every log subscription for the given client
// PID. Fire-and-forget.
func (c *Connection) handleEndLogs(frame *wire.Frame) error {
	var req wire.EndLogsRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		c.writeError(wire.TypeEndLogs, "malformed end-logs payload", false)
		return errProtocolViolation
	}

	c.daemon.hub.EndLogs(req.PID)
	return nil
}
