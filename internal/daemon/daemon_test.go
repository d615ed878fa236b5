//go:build !windows

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/standardbeagle/craftd/internal/bridge"
	"github.com/standardbeagle/craftd/internal/supervisor"
	"github.com/standardbeagle/craftd/internal/transport"
	"github.com/standardbeagle/craftd/internal/wire"
)

// echoScript stands in for the server: it echoes console commands back
// to its console and honors the in-band stop directive.
const echoScript = `while read line; do echo "echo:$line"; if [ "$line" = "stop" ]; then exit 0; fi; done`

// testDaemon starts a daemon supervising a shell script over a socket
// in a temp dir. Returns the daemon and the channel Serve's result
// lands on.
func testDaemon(t *testing.T, script string) (*Daemon, chan error) {
	t.Helper()
	dir := t.TempDir()

	d := New(Config{
		PIDFile:   filepath.Join(dir, "craftd.pid"),
		Transport: "socket",
		Server: supervisor.Config{
			JavaPath:        "/bin/sh",
			JVMArgs:         []string{"-c", script},
			JarPath:         filepath.Join(dir, "server.jar"),
			GracefulTimeout: 3 * time.Second,
		},
	})

	if err := d.Start(); err != nil {
		t.Fatalf("daemon start failed: %v", err)
	}

	serveCh := make(chan error, 1)
	go func() { serveCh <- d.Serve() }()

	waitRunning(t, d)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.Stop(ctx)
	})

	return d, serveCh
}

func waitRunning(t *testing.T, d *Daemon) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Supervisor().State() == supervisor.StateRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never reached running (state %s)", d.Supervisor().State())
}

// fakeBridge answers bridge requests next to the daemon's PID file,
// standing in for the server plugin.
func fakeBridge(t *testing.T, pidFile string, handle func(conn net.Conn, frame *wire.Frame)) {
	t.Helper()

	ln, err := net.Listen("unix", bridge.SocketPath(pidFile))
	if err != nil {
		t.Fatalf("failed to listen on bridge socket: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				frame, err := wire.NewDecoder(conn).Decode()
				if err != nil {
					return
				}
				handle(conn, frame)
			}()
		}
	}()
}

func TestVersionHandshake(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()
}

func TestVersionGateRejectsCommandFirst(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	conn, err := transport.DialSocket(SocketPath(d.config.PIDFile))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Status before the version check must be rejected and the
	// connection closed without invoking the handler.
	if err := conn.WriteFrame(wire.TypeStatus, []byte(`{}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("expected an error frame, got read error: %v", err)
	}
	var se wire.ServerError
	if err := json.Unmarshal(frame.Payload, &se); err != nil || se.Error == "" {
		t.Fatalf("expected protocol mismatch error shape, got %q", frame.Payload)
	}

	if _, err := conn.ReadFrame(); err == nil {
		t.Error("connection should be closed after a protocol mismatch")
	}
}

func TestUnknownMessageTypeCloses(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if err := c.conn.WriteFrame(wire.MessageType(99), []byte(`{}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame, err := c.conn.ReadFrame()
	if err != nil {
		t.Fatalf("expected an error frame, got read error: %v", err)
	}
	var se wire.ServerError
	if err := json.Unmarshal(frame.Payload, &se); err != nil || se.Error == "" {
		t.Fatalf("expected unknown-type error shape, got %q", frame.Payload)
	}
	if _, err := c.conn.ReadFrame(); err == nil {
		t.Error("connection should be closed after an unknown type")
	}
}

func TestStatusEndToEnd(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	fakeBridge(t, d.config.PIDFile, func(conn net.Conn, frame *wire.Frame) {
		payload, _ := json.Marshal(wire.StatusResponse{
			MOTD:          "A Minecraft Server",
			ServerName:    "main",
			ServerVersion: "1.21.4-R0.1",
			APIVersion:    "1.21",
			Players:       []string{"alice", "bob"},
			Worlds: []wire.WorldStatus{{
				Name:       "world",
				Dimension:  "overworld",
				Seed:       42,
				Difficulty: "normal",
				Players:    []string{"alice"},
				Time:       "6000",
			}},
			TPS:         wire.TPSStatus{OneMin: 19.99, FiveMin: 19.8, FifteenMin: 20.0},
			MemoryUsage: wire.MemoryStatus{UsedMemory: "1.2 GB", TotalMemory: "2.0 GB", MaxMemory: "4.0 GB"},
		})
		wire.WriteFrame(conn, wire.TypeStatus, payload)
	})

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if status.ServerName == "" {
		t.Error("serverName must be non-empty")
	}
	if status.TPS.OneMin != 19.99 {
		t.Errorf("expected tps.oneMin 19.99, got %v", status.TPS.OneMin)
	}
	if len(status.Players) != 2 || len(status.Worlds) != 1 {
		t.Errorf("unexpected players/worlds: %+v", status)
	}
	if status.Worlds[0].Dimension != "overworld" || status.Worlds[0].Seed != 42 {
		t.Errorf("unexpected world: %+v", status.Worlds[0])
	}
	if status.MemoryUsage.MaxMemory != "4.0 GB" {
		t.Errorf("unexpected memory: %+v", status.MemoryUsage)
	}
}

func TestStatusDegradesWithoutBridge(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	// No bridge plugin is listening: the response must still succeed
	// with partial (zero) statistics while the server is running.
	status, err := c.Status()
	if err != nil {
		t.Fatalf("status must degrade, not fail: %v", err)
	}
	if status.ServerName != "" || len(status.Players) != 0 {
		t.Errorf("expected empty partial status, got %+v", status)
	}
}

func TestSendCommandAndLogStream(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	lines := make(chan string, 16)
	go c.Logs(1234, func(line string) error {
		lines <- line
		return nil
	})

	waitSubscribers(t, d, 1234, 1)

	sender, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	defer sender.Close()
	if err := sender.SendCommand("ping"); err != nil {
		t.Fatalf("send command failed: %v", err)
	}

	select {
	case line := <-lines:
		if line != "echo:ping" {
			t.Errorf("expected %q, got %q", "echo:ping", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("console echo never reached the log subscriber")
	}
}

func TestEndLogsRemovesSubscription(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	go c.Logs(1234, func(string) error { return nil })
	waitSubscribers(t, d, 1234, 1)

	if err := c.EndLogs(1234); err != nil {
		t.Fatalf("end-logs failed: %v", err)
	}
	waitSubscribers(t, d, 1234, 0)
}

func TestConnectionLossTearsDownSubscription(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	go c.Logs(77, func(string) error { return nil })
	waitSubscribers(t, d, 77, 1)

	c.Close()
	waitSubscribers(t, d, 77, 0)
}

func TestConcurrentStatusDuringLogStream(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	follower, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer follower.Close()
	go follower.Logs(1, func(string) error { return nil })
	waitSubscribers(t, d, 1, 1)

	// A streaming client must not delay another client's request.
	other, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	defer other.Close()

	done := make(chan struct{})
	go func() {
		other.Status()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("status blocked behind a log stream")
	}
}

func TestStopStopsServerAndServeReturns(t *testing.T) {
	d, serveCh := testDaemon(t, echoScript)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if err := c.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case err := <-serveCh:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server never stopped")
	}
	if st := d.Supervisor().State(); st != supervisor.StateExited {
		t.Errorf("expected exited, got %s", st)
	}
}

func TestRestartRespawnsServer(t *testing.T) {
	// The script treats "restart" like the real server: exit with the
	// restart code so the supervisor respawns it.
	script := `while read line; do
  if [ "$line" = "restart" ]; then exit 57; fi
  if [ "$line" = "stop" ]; then exit 0; fi
done`
	d, _ := testDaemon(t, script)

	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if err := c.Restart(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if d.Supervisor().Snapshot().Respawns == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server never respawned (respawns=%d)", d.Supervisor().Snapshot().Respawns)
}

func TestSecondStartLeavesPIDFileIntact(t *testing.T) {
	d, _ := testDaemon(t, echoScript)

	dir := t.TempDir()
	second := New(Config{
		PIDFile:   d.config.PIDFile,
		Transport: "socket",
		Server: supervisor.Config{
			JavaPath: "/bin/sh",
			JVMArgs:  []string{"-c", echoScript},
			JarPath:  filepath.Join(dir, "server.jar"),
		},
	})

	err := second.Start()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		second.Stop(ctx)
		t.Fatal("expected second start against a live daemon to fail")
	}
	if !errors.Is(err, transport.ErrAddressInUse) {
		t.Errorf("expected ErrAddressInUse, got %v", err)
	}

	// The running daemon's PID file must survive the failed startup.
	pid, err := ReadPIDFile(d.config.PIDFile)
	if err != nil {
		t.Fatalf("PID file unreadable after failed second start: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID file rewritten: got %d, want %d", pid, os.Getpid())
	}

	// And the first daemon still answers.
	c, err := Connect(d.config.PIDFile, "socket")
	if err != nil {
		t.Fatalf("original daemon unreachable after failed second start: %v", err)
	}
	c.Close()
}

func waitSubscribers(t *testing.T, d *Daemon, pid, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Hub().Subscribers(pid) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriptions for pid %d never reached %d (have %d)",
		pid, want, d.Hub().Subscribers(pid))
}
