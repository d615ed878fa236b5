package daemon

import (
	"testing"
	"time"
)

func TestSubscribePublishReceive(t *testing.T) {
	hub := NewLogHub()
	sub := hub.Subscribe(1234)

	hub.Publish("first line")
	hub.Publish("second line")

	select {
	case line := <-sub.Lines():
		if line != "first line" {
			t.Errorf("expected %q, got %q", "first line", line)
		}
	case <-time.After(time.Second):
		t.Fatal("published line never delivered")
	}
}

func TestIndependentSubscriptions(t *testing.T) {
	hub := NewLogHub()
	a := hub.Subscribe(1)
	b := hub.Subscribe(2)

	hub.Publish("hello")

	for _, sub := range []*LogSubscription{a, b} {
		select {
		case line := <-sub.Lines():
			if line != "hello" {
				t.Errorf("pid %d: expected %q, got %q", sub.PID(), "hello", line)
			}
		case <-time.After(time.Second):
			t.Fatalf("pid %d never received the line", sub.PID())
		}
	}
}

func TestEndLogsRemovesAllForPID(t *testing.T) {
	hub := NewLogHub()
	a := hub.Subscribe(42)
	hub.Subscribe(42)
	other := hub.Subscribe(7)

	if got := hub.Subscribers(42); got != 2 {
		t.Fatalf("expected 2 subscriptions for pid 42, got %d", got)
	}

	hub.EndLogs(42)

	if got := hub.Subscribers(42); got != 0 {
		t.Errorf("expected zero subscriptions for pid 42, got %d", got)
	}
	if got := hub.Subscribers(7); got != 1 {
		t.Errorf("end-logs must not touch other pids, got %d", got)
	}

	// The stream is closed for removed subscriptions.
	if _, ok := <-a.Lines(); ok {
		t.Error("expected closed stream after end-logs")
	}
	_ = other
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := NewLogHub()
	sub := hub.Subscribe(9)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // second removal is a no-op

	if got := hub.Active(); got != 0 {
		t.Errorf("expected no active subscriptions, got %d", got)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewLogHub()
	slow := hub.Subscribe(1) // never drained
	fast := hub.Subscribe(2)

	done := make(chan struct{})
	go func() {
		// Far more lines than the subscription buffer holds.
		for i := 0; i < subscriptionBuffer*4; i++ {
			hub.Publish("line")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The fast subscriber still sees lines (up to its buffer).
	select {
	case <-fast.Lines():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved")
	}
	_ = slow
}
