package session

import (
	"log/slog"
	"sync"
	"time"
)

// Transition reasons carried on events.
const (
	ReasonStarted  = "started"
	ReasonRestored = "restored"
	ReasonTimeout  = "timeout"
	ReasonExpired  = "expired"
	ReasonEnded    = "ended"
	ReasonClosed   = "closed"
)

// Event describes one state transition.
type Event struct {
	Previous  State
	Current   State
	Reason    string
	At        time.Time
	SessionID string
}

// notifier fans events out to channel subscribers and callbacks.
type notifier struct {
	mu       sync.Mutex
	nextID   int
	subs     map[int]chan Event
	handlers []func(Event)
	closed   bool
	logger   *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{subs: make(map[int]chan Event), logger: logger}
}

func (n *notifier) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

func (n *notifier) onChange(fn func(Event)) {
	n.mu.Lock()
	n.handlers = append(n.handlers, fn)
	n.mu.Unlock()
}

// publish never blocks on a subscriber. A full subscriber misses the event.
func (n *notifier) publish(ev Event) {
	n.mu.Lock()
	handlers := append([]func(Event){}, n.handlers...)
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn("dropping session event for slow subscriber",
				slog.Int("subscriber", id),
				slog.String("reason", ev.Reason))
		}
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
