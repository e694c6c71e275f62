// Package events fans lifecycle notifications out to registered
// subscribers. Delivery is synchronous and strictly ordered relative to
// the mutation that produced the event, so observers see a consistent
// history.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vespera-ai/quill/model"
)

// Subscriber receives every published event. Subscribers run inline on
// the publishing goroutine and must return quickly.
type Subscriber func(model.Event)

// Bus is an ordered observer list. Subscribers are called in
// registration order; a panicking subscriber is logged and skipped so it
// cannot fail the originating operation.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe appends a subscriber. There is no unsubscribe: the set is
// fixed at engine construction time.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers the event to all subscribers in registration order.
func (b *Bus) Publish(ev model.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn Subscriber, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("events: subscriber panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// PublishError emits a typed error event carrying the failing operation
// name and message.
func (b *Bus) PublishError(op, templateID string, err error) {
	b.Publish(model.Event{
		Type:       model.EventError,
		TemplateID: templateID,
		Payload: map[string]any{
			"operation": op,
			"message":   err.Error(),
		},
	})
}
