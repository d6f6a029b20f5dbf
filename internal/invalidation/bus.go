package invalidation

import (
	"log/slog"
	"sync"
)

// Bus fans invalidations out to every registered queue of one store.
//
// Thread-safety: all methods may be called from any goroutine.
type Bus struct {
	mu     sync.Mutex
	queues map[*Queue]struct{}
	logger *slog.Logger
}

// NewBus creates a bus with no queues.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queues: make(map[*Queue]struct{}),
		logger: logger,
	}
}

// Register creates the inbox of a new session.
func (b *Bus) Register(name string) *Queue {
	q := &Queue{name: name, bus: b}
	b.mu.Lock()
	b.queues[q] = struct{}{}
	b.mu.Unlock()
	return q
}

// Unregister removes a queue; it receives nothing afterwards.
func (b *Bus) Unregister(q *Queue) {
	b.mu.Lock()
	delete(b.queues, q)
	b.mu.Unlock()
}

// Len returns the number of registered queues.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}

// Publish appends inv to every queue except from's. Returns the number of
// recipients.
func (b *Bus) Publish(from *Queue, inv *Invalidations) int {
	if inv.IsEmpty() {
		return 0
	}

	b.mu.Lock()
	recipients := make([]*Queue, 0, len(b.queues))
	for q := range b.queues {
		if q != from {
			recipients = append(recipients, q)
		}
	}
	b.mu.Unlock()

	for _, q := range recipients {
		q.enqueue(inv)
	}
	b.logger.Debug("invalidations published", "from", from.Name(), "recipients", len(recipients), "count", inv.Count())
	return len(recipients)
}

// Queue is the invalidation inbox of one session.
type Queue struct {
	name    string
	bus     *Bus
	mu      sync.Mutex
	pending *Invalidations
}

// Name returns the session name the queue was registered with.
func (q *Queue) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

func (q *Queue) enqueue(inv *Invalidations) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = New()
	}
	q.pending.Merge(inv)
}

// Drain returns everything received since the last drain, or nil.
func (q *Queue) Drain() *Invalidations {
	q.mu.Lock()
	defer q.mu.Unlock()
	inv := q.pending
	q.pending = nil
	return inv
}

// Pending reports whether invalidations are waiting.
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.pending.IsEmpty()
}

// Close unregisters the queue from its bus.
func (q *Queue) Close() {
	q.bus.Unregister(q)
}
