// Package memory provides an in-process events.Bus: a topic-keyed fan-out
// of synchronous handler invocations, with no persistence or cross-process
// visibility. It is the concrete backend AetherBus uses for the lifecycle
// notifications a BusAdapter emits locally (subscription started/stopped)
// — an observability aid, not a wire-level concept.
package memory

import (
	"context"
	"sync"

	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/events"
	"github.com/aetherbus/aetherbus/pkg/logger"
)

// Bus is an in-process events.Bus implementation.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]events.Handler
	closed   bool
}

var _ events.Bus = (*Bus)(nil)

// New creates an empty in-process event bus.
func New() *Bus {
	return &Bus{handlers: map[string][]events.Handler{}}
}

// Publish invokes every handler subscribed to topic, synchronously, in
// registration order. A handler's error is logged and does not stop the
// remaining handlers from running.
func (b *Bus) Publish(ctx context.Context, topic string, event events.Event) error {
	b.mu.RLock()
	handlers := append([]events.Handler(nil), b.handlers[topic]...)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			logger.L().WarnContext(ctx, "lifecycle event handler failed", "topic", topic, "event_type", event.Type, "error", err)
		}
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Close marks the bus closed; subsequent Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// PublishAsync fires Publish on a recovered goroutine so a lifecycle
// notification can never block or panic the caller's hot path.
func (b *Bus) PublishAsync(ctx context.Context, topic string, event events.Event) {
	concurrency.SafeGo(ctx, func() {
		_ = b.Publish(ctx, topic, event)
	})
}
