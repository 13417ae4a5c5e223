package bus

import (
	"context"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/logger"
)

// DefaultPollDelay is the rescan interval used when none is given.
const DefaultPollDelay = 5 * time.Second

// PatternDiscoverer periodically scans for stream names matching a glob
// pattern and spawns a ConsumerGroupSubscriber for each newly seen name. It
// owns a flat, never-shrinking set of already-subscribed names: a discovered
// stream's subscriber runs for the discoverer's lifetime even if the stream
// later goes quiet.
type PatternDiscoverer struct {
	client broker.Client

	mu      *concurrency.SmartMutex
	seen    map[string]struct{}
	started []context.CancelFunc
}

// NewPatternDiscoverer creates a discoverer bound to client.
func NewPatternDiscoverer(client broker.Client) *PatternDiscoverer {
	return &PatternDiscoverer{
		client: client,
		mu:     concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "PatternDiscoverer"}),
		seen:   map[string]struct{}{},
	}
}

// Run scans pattern every pollDelay (DefaultPollDelay if zero), subscribing
// group to the handler on every new match, until ctx is cancelled. It
// cancels every child subscriber it spawned before returning.
func (d *PatternDiscoverer) Run(ctx context.Context, pattern, group string, handler HandlerFunc, pollDelay time.Duration) error {
	if pollDelay <= 0 {
		pollDelay = DefaultPollDelay
	}

	defer d.stopAll()

	for {
		if err := d.scanOnce(ctx, pattern, group, handler); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollDelay):
		}
	}
}

func (d *PatternDiscoverer) scanOnce(ctx context.Context, pattern, group string, handler HandlerFunc) error {
	var cursor uint64
	for {
		next, names, err := d.client.Scan(ctx, cursor, pattern)
		if err != nil {
			logger.L().WarnContext(ctx, "pattern scan failed", "pattern", pattern, "error", err)
			return err
		}

		for _, name := range names {
			d.maybeSubscribe(ctx, name, group, handler)
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (d *PatternDiscoverer) maybeSubscribe(ctx context.Context, stream, group string, handler HandlerFunc) {
	d.mu.Lock()
	if _, ok := d.seen[stream]; ok {
		d.mu.Unlock()
		return
	}
	d.seen[stream] = struct{}{}
	childCtx, cancel := context.WithCancel(ctx)
	d.started = append(d.started, cancel)
	d.mu.Unlock()

	logger.L().InfoContext(ctx, "discovered new stream, spawning subscriber", "stream", stream, "group", group)

	sub := NewConsumerGroupSubscriber(d.client, stream, group, handler, DefaultSubscriberOptions())
	concurrency.SafeGo(ctx, func() {
		if err := sub.Run(childCtx); err != nil && childCtx.Err() == nil {
			logger.L().ErrorContext(ctx, "discovered subscriber exited", "stream", stream, "group", group, "error", err)
		}
	})
}

func (d *PatternDiscoverer) stopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.started {
		cancel()
	}
}
