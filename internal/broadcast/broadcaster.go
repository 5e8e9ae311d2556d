// Package broadcast implements fan-out of typed AgentEvents to
// subscribers, backpressure-aware via bounded per-subscriber channels.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 100

// Broadcaster delivers AgentEvent values to zero or more subscribers. It
// is not a persistence layer — journaling is the Scheduler's
// responsibility and must precede a Publish call.
//
// Broadcaster never drops an event under pressure: a send blocks until
// space is available or the subscriber is removed, bounded only by the
// ambient cancellation context.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int64]chan agentloop.AgentEvent
	nextID      int64
	bufferSize  int
	logger      *slog.Logger
}

// New creates a Broadcaster. A non-positive bufferSize falls back to
// DefaultBufferSize; a nil logger falls back to slog.Default().
func New(bufferSize int, logger *slog.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[int64]chan agentloop.AgentEvent),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id int64
	ch chan agentloop.AgentEvent
	b  *Broadcaster
}

// Events returns the channel this subscription receives events on. The
// channel is closed by the Broadcaster after the first terminal event
// (Complete or Error) has been delivered, or when Unsubscribe is called.
func (s *Subscription) Events() <-chan agentloop.AgentEvent { return s.ch }

// Unsubscribe removes this subscription from the Broadcaster and closes
// its channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.b.remove(s.id) }

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan agentloop.AgentEvent, b.bufferSize)
	b.subscribers[id] = ch
	b.logger.Debug("subscriber added", "subscriber_id", id)
	return &Subscription{id: id, ch: ch, b: b}
}

func (b *Broadcaster) remove(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
		b.logger.Debug("subscriber removed", "subscriber_id", id)
	}
}

// Publish enqueues event on every current subscriber's channel. It
// blocks, per subscriber, until the send succeeds or ctx is done — the
// Scheduler must not block longer than the ambient cancellation
// permits. If event is terminal (Complete or Error), each subscriber's
// channel is closed immediately after delivery.
func (b *Broadcaster) Publish(ctx context.Context, event agentloop.AgentEvent) {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.subscribers))
	chans := make([]chan agentloop.AgentEvent, 0, len(b.subscribers))
	for id, ch := range b.subscribers {
		ids = append(ids, id)
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	terminal := event.IsTerminal()
	for i, ch := range chans {
		select {
		case ch <- event:
		case <-ctx.Done():
			// Cancellation takes precedence over further blocking, but the
			// event has already been journaled by the caller; subscribers
			// simply miss this one delivery.
			b.logger.Warn("publish aborted by cancellation", "subscriber_id", ids[i], "event_type", event.Type)
		}
		if terminal {
			b.remove(ids[i])
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
