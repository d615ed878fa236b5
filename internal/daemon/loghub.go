package daemon

import "sync"

// subscriptionBuffer is the per-subscriber line buffer. A subscriber
// that falls this far behind starts losing lines instead of blocking
// the publisher.
const subscriptionBuffer = 256

// LogHub fans live console lines out to log subscribers. Subscriptions
// are keyed by the requesting client's PID; publishing never blocks on
// a slow subscriber.
type LogHub struct {
	mu   sync.Mutex
	subs map[int][]*LogSubscription
}

// LogSubscription is one client's cursor into the live log stream.
type LogSubscription struct {
	pid int
	ch  chan string
}

// PID returns the subscribing client's PID.
func (s *LogSubscription) PID() int {
	return s.pid
}

// Lines is the stream of console lines. It is closed when the
// subscription ends.
func (s *LogSubscription) Lines() <-chan string {
	return s.ch
}

// NewLogHub creates an empty hub.
func NewLogHub() *LogHub {
	return &LogHub{subs: make(map[int][]*LogSubscription)}
}

// Subscribe registers a new subscription for the given client PID.
func (h *LogHub) Subscribe(pid int) *LogSubscription {
	sub := &LogSubscription{pid: pid, ch: make(chan string, subscriptionBuffer)}

	h.mu.Lock()
	h.subs[pid] = append(h.subs[pid], sub)
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes one subscription and closes its stream. Safe to
// call for an already-removed subscription.
func (h *LogHub) Unsubscribe(sub *LogSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.subs[sub.pid]
	for i, s := range list {
		if s == sub {
			h.subs[sub.pid] = append(list[:i], list[i+1:]...)
			if len(h.subs[sub.pid]) == 0 {
				delete(h.subs, sub.pid)
			}
			close(sub.ch)
			return
		}
	}
}

// EndLogs removes every subscription registered for a client PID.
func (h *LogHub) EndLogs(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[pid] {
		close(sub.ch)
	}
	delete(h.subs, pid)
}

// Publish fans a console line out to every subscriber. Sends are
// non-blocking: a subscriber whose buffer is full misses the line.
func (h *LogHub) Publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, list := range h.subs {
		for _, sub := range list {
			select {
			case sub.ch <- line:
			default:
			}
		}
	}
}

// Subscribers reports the number of active subscriptions for a PID.
func (h *LogHub) Subscribers(pid int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[pid])
}

// Active reports the total number of active subscriptions.
func (h *LogHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, list := range h.subs {
		n += len(list)
	}
	return n
}
