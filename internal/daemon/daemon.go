// Package daemon is the control daemon: it owns the listening
// endpoint, accepts client connections, dispatches framed commands to
// handlers, and fronts the process supervisor and the server bridge.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/craftd/internal/bridge"
	"github.com/standardbeagle/craftd/internal/supervisor"
	"github.com/standardbeagle/craftd/internal/transport"
	"github.com/standardbeagle/craftd/internal/wire"
)

// Version is the daemon version.
const Version = "0.1.0"

// Config holds configuration for the daemon.
type Config struct {
	// PIDFile is the daemon's PID file; the control socket path and
	// message queue key derive from it.
	PIDFile string

	// Transport selects the control channel: "socket" (default) or
	// "msgqueue".
	Transport string

	// MaxFrameSize is the inbound payload ceiling (0 = codec default).
	MaxFrameSize int

	// MaxClients caps concurrent connections (0 = unlimited).
	MaxClients int

	// Server configures the supervised server process.
	Server supervisor.Config
}

// Daemon manages the control endpoint and the supervised server.
type Daemon struct {
	config Config

	sup    *supervisor.Supervisor
	bridge *bridge.Client
	hub    *LogHub

	listener transport.Listener

	// Client tracking
	clients     sync.Map // clientID -> *Connection
	clientCount atomic.Int64
	nextID      atomic.Int64

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    time.Time
	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new daemon instance. The server process is not started;
// call Serve for that.
func New(config Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: config,
		bridge: bridge.New(config.PIDFile),
		hub:    NewLogHub(),
		ctx:    ctx,
		cancel: cancel,
	}

	// Console lines feed the log hub; chain any caller-provided sink.
	serverCfg := config.Server
	onLine := serverCfg.OnLine
	serverCfg.OnLine = func(line string) {
		d.hub.Publish(line)
		if onLine != nil {
			onLine(line)
		}
	}
	d.sup = supervisor.New(serverCfg)

	return d
}

// Supervisor returns the process supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.sup
}

// Hub returns the log hub.
func (d *Daemon) Hub() *LogHub {
	return d.hub
}

// ClientCount reports the number of connected clients.
func (d *Daemon) ClientCount() int64 {
	return d.clientCount.Load()
}

// Start binds the control endpoint, claims the PID file, and begins
// accepting connections. A second daemon pointed at the same PID file
// fails here without disturbing the running one's endpoint or PID file.
func (d *Daemon) Start() error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return errors.New("daemon already shutdown")
	}
	d.shutdownMu.Unlock()

	switch d.config.Transport {
	case "", "socket":
		// Bind first: a live daemon answers the socket probe and fails
		// the bind before this process touches the PID file.
		listener, err := transport.ListenSocket(SocketPath(d.config.PIDFile))
		if err != nil {
			return fmt.Errorf("failed to bind control endpoint: %w", err)
		}
		if err := ClaimPIDFile(d.config.PIDFile); err != nil {
			listener.Close()
			return err
		}
		d.listener = listener

	case "msgqueue":
		// The queue key derives from the PID file inode, so the file
		// must exist before the bind. Claiming it verifies the recorded
		// owner is gone, which also makes any leftover queue safe to
		// replace.
		if err := ClaimPIDFile(d.config.PIDFile); err != nil {
			return err
		}
		listener, err := listenQueue(d.config.PIDFile)
		if err != nil {
			RemovePIDFile(d.config.PIDFile)
			return fmt.Errorf("failed to bind control endpoint: %w", err)
		}
		d.listener = listener

	default:
		return fmt.Errorf("unknown transport %q", d.config.Transport)
	}

	d.started = time.Now()

	log.Printf("Daemon started (pid %d), listening on %s", os.Getpid(), d.listener.Addr())

	d.wg.Add(1)
	go d.acceptLoop()

	return nil
}

// Serve runs the server process through its respawn loop, blocking
// until it exits with a terminating disposition or a stop is requested.
func (d *Daemon) Serve() error {
	return d.sup.Run()
}

// Stop gracefully shuts down the daemon: the server process first, then
// the listener and all client connections.
func (d *Daemon) Stop(ctx context.Context) error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return nil
	}
	d.shutdown = true
	d.shutdownMu.Unlock()

	log.Println("Daemon stopping...")

	var errs []error

	// Stop the server before tearing down the control channel so a
	// final stop command has somewhere to land.
	if err := d.sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("server stop: %w", err))
	}

	// Signal all goroutines to stop.
	d.cancel()

	// Close listener to unblock the accept loop.
	if d.listener != nil {
		if err := d.listener.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = append(errs, fmt.Errorf("listener close: %w", err))
		}
	}

	// Close all client connections.
	d.clients.Range(func(key, value any) bool {
		value.(*Connection).Close()
		return true
	})

	// Wait for goroutines with timeout.
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := RemovePIDFile(d.config.PIDFile); err != nil {
		errs = append(errs, fmt.Errorf("PID file cleanup: %w", err))
	}

	log.Println("Daemon stopped")

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// acceptLoop accepts new client connections.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return // Shutting down
			default:
			}
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		if d.config.MaxClients > 0 && d.clientCount.Load() >= int64(d.config.MaxClients) {
			log.Printf("Max clients reached, rejecting connection")
			// Answer on the frozen type so queue clients blocked in
			// msgrcv get a response instead of waiting forever.
			if payload, err := json.Marshal(wire.ServerError{Error: "daemon at connection capacity"}); err == nil {
				conn.WriteFrame(wire.TypeProtocolVersion, payload)
			}
			conn.Close()
			continue
		}

		if d.config.MaxFrameSize > 0 {
			if mp, ok := conn.(interface{ SetMaxPayload(int) }); ok {
				mp.SetMaxPayload(d.config.MaxFrameSize)
			}
		}

		clientID := d.nextID.Add(1)
		clientConn := newConnection(clientID, conn, d)

		d.clients.Store(clientID, clientConn)
		d.clientCount.Add(1)

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				d.clients.Delete(clientID)
				d.clientCount.Add(-1)
			}()

			clientConn.Handle(d.ctx)
		}()
	}
}
