// Package progress fans sync progress events out to any number of
// listeners and streams them to WebSocket clients.
package progress

import (
	"log/slog"
	"sync"

	"github.com/alexjbarnes/workspace-sync/internal/syncer"
)

// subscriberBuffer is the number of events queued per subscriber before
// new events are dropped for it.
const subscriberBuffer = 64

// Hub is a syncer.Observer that broadcasts each event to its
// subscribers. Slow subscribers lose events rather than stall the run.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan syncer.Progress]struct{}
	last   *syncer.Progress
	next   []syncer.Observer
	logger *slog.Logger
}

var _ syncer.Observer = (*Hub)(nil)

// NewHub creates a Hub. Events are also passed on, synchronously, to
// each observer in next.
func NewHub(logger *slog.Logger, next ...syncer.Observer) *Hub {
	return &Hub{
		subs:   make(map[chan syncer.Progress]struct{}),
		next:   next,
		logger: logger,
	}
}

// OnProgress records the event and delivers it to every subscriber.
func (h *Hub) OnProgress(p syncer.Progress) {
	h.mu.Lock()
	h.last = &p

	dropped := 0

	for ch := range h.subs {
		select {
		case ch <- p:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.logger.Debug("progress: dropped event for slow subscribers",
			slog.String("run_id", p.RunID),
			slog.Int("subscribers", dropped),
		)
	}

	for _, o := range h.next {
		o.OnProgress(p)
	}
}

// Subscribe registers a listener. The returned function unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan syncer.Progress, func()) {
	ch := make(chan syncer.Progress, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Last returns the most recent event seen, if any.
func (h *Hub) Last() (syncer.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.last == nil {
		return syncer.Progress{}, false
	}

	return *h.last, true
}

// Subscribers returns the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}
