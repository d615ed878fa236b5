//go:build linux

package daemon

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/standardbeagle/craftd/internal/supervisor"
)

// testQueueDaemon mirrors testDaemon over the message queue transport.
func testQueueDaemon(t *testing.T, script string, maxClients int) (*Daemon, chan error) {
	t.Helper()
	dir := t.TempDir()

	d := New(Config{
		PIDFile:    filepath.Join(dir, "craftd.pid"),
		Transport:  "msgqueue",
		MaxClients: maxClients,
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

func TestQueueClientsReleasedAfterClose(t *testing.T) {
	d, _ := testQueueDaemon(t, echoScript, 0)

	// Several short-lived clients in sequence, each a full
	// handshake-command-disconnect cycle.
	for i := 0; i < 3; i++ {
		c, err := Connect(d.config.PIDFile, "msgqueue")
		if err != nil {
			t.Fatalf("connect %d failed: %v", i, err)
		}
		if err := c.SendCommand("say hello"); err != nil {
			t.Fatalf("send command %d failed: %v", i, err)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("close %d failed: %v", i, err)
		}
	}

	// The daemon notices removed reply queues on its next liveness
	// sweep; every tracked client must be released.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && d.ClientCount() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if n := d.ClientCount(); n != 0 {
		t.Fatalf("%d clients still tracked after all disconnected", n)
	}

	// With no leaked connection goroutines, shutdown completes well
	// inside its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop did not complete cleanly: %v", err)
	}
}

func TestQueueClientRejectedAtCapacity(t *testing.T) {
	d, _ := testQueueDaemon(t, echoScript, 1)

	first, err := Connect(d.config.PIDFile, "msgqueue")
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	defer first.Close()

	// The second client must get an answer, not block forever waiting
	// on its reply queue.
	done := make(chan error, 1)
	go func() {
		_, err := Connect(d.config.PIDFile, "msgqueue")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected connect to fail at capacity")
		}
		if !strings.Contains(err.Error(), "capacity") {
			t.Errorf("expected capacity error, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rejected client never got a response")
	}
}
