//go:build linux

package transport

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/standardbeagle/craftd/internal/wire"
)

func testQueuePIDFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "craftd.pid")
	// The queue key only needs the file to exist; the content is not
	// read by the transport.
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	return path
}

func TestQueueRoundTrip(t *testing.T) {
	pidFile := testQueuePIDFile(t)

	ln, err := ListenQueue(pidFile)
	if err != nil {
		t.Fatalf("ListenQueue failed: %v", err)
	}
	defer ln.Close()

	type result struct {
		frame *wire.Frame
		err   error
	}
	got := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- result{err: err}
			return
		}
		defer conn.Close()

		frame, err := conn.ReadFrame()
		if err != nil {
			got <- result{err: err}
			return
		}
		if err := conn.WriteFrame(frame.Type, frame.Payload); err != nil {
			got <- result{err: err}
			return
		}
		got <- result{frame: frame}
	}()

	client, err := DialQueue(pidFile)
	if err != nil {
		t.Fatalf("DialQueue failed: %v", err)
	}
	defer client.Close()

	// Long enough to span several envelopes.
	payload := bytes.Repeat([]byte(`{"message":"say hi"}`), 15)
	if err := client.WriteFrame(wire.TypeSendCommand, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	echo, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if echo.Type != wire.TypeSendCommand || !bytes.Equal(echo.Payload, payload) {
		t.Errorf("echo mismatch: type=%d len=%d", echo.Type, len(echo.Payload))
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("server side failed: %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never completed")
	}
}

func TestQueuePeerTornDownAfterClientClose(t *testing.T) {
	pidFile := testQueuePIDFile(t)

	ln, err := ListenQueue(pidFile)
	if err != nil {
		t.Fatalf("ListenQueue failed: %v", err)
	}
	defer ln.Close()

	client, err := DialQueue(pidFile)
	if err != nil {
		t.Fatalf("DialQueue failed: %v", err)
	}

	if err := client.WriteFrame(wire.TypeProtocolVersion, []byte("{}")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := conn.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	// Removing the reply queue is how a client disconnects; the
	// daemon-side conn must end with EOF instead of blocking forever.
	if err := client.Close(); err != nil {
		t.Fatalf("client Close failed: %v", err)
	}

	read := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		read <- err
	}()

	select {
	case err := <-read:
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected EOF after client close, got %v", err)
		}
	case <-time.After(3 * QueueReapInterval):
		t.Fatal("server conn still blocked after client closed its reply queue")
	}

	ln.mu.Lock()
	remaining := len(ln.peers)
	ln.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected no peers after teardown, got %d", remaining)
	}
}

func TestQueueListenerCloseUnblocksAccept(t *testing.T) {
	pidFile := testQueuePIDFile(t)

	ln, err := ListenQueue(pidFile)
	if err != nil {
		t.Fatalf("ListenQueue failed: %v", err)
	}

	accepted := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		accepted <- err
	}()

	if err := ln.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-accepted:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from Accept, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Accept never returned after Close")
	}
}

func TestQueueReplacesStaleQueue(t *testing.T) {
	pidFile := testQueuePIDFile(t)

	first, err := ListenQueue(pidFile)
	if err != nil {
		t.Fatalf("first ListenQueue failed: %v", err)
	}
	firstQID := first.qid

	// A daemon killed without cleanup leaves its queue behind. The
	// next bind (after PID file ownership is re-established) replaces
	// it rather than inheriting stale fragments.
	second, err := ListenQueue(pidFile)
	if err != nil {
		t.Fatalf("ListenQueue over leftover queue failed: %v", err)
	}
	defer second.Close()

	if msgAlive(firstQID) && firstQID != second.qid {
		t.Errorf("leftover queue %d still exists alongside %d", firstQID, second.qid)
	}
}
