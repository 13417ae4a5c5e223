// Package bus implements the AetherBus substrate: the Publisher,
// ConsumerGroupSubscriber, PatternDiscoverer, AgentRegistry, RPC, and the
// BusAdapter façade that bundles them behind one per-agent object.
package bus

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/events"
	memevents "github.com/aetherbus/aetherbus/pkg/events/adapters/memory"
	"github.com/aetherbus/aetherbus/pkg/logger"
	"github.com/aetherbus/aetherbus/pkg/streamkey"
)

// subscriptionAwaitTimeout bounds how long Stop/RemoveSubscription wait for
// a cancelled subscriber task to exit.
const subscriptionAwaitTimeout = 5 * time.Second

// WiringEntry is one row of BusAdapter.DumpWiring's introspection output.
type WiringEntry struct {
	Pattern     string
	HandlerName string
}

type subscription struct {
	pattern string
	handler HandlerFunc
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a BusAdapter at construction.
type Option func(*BusAdapter)

// WithGroup overrides the consumer group (defaults to the agent id).
func WithGroup(group string) Option {
	return func(a *BusAdapter) { a.group = group }
}

// WithNamespace overrides the StreamKeyBuilder namespace used for
// auto-generated RPC reply streams.
func WithNamespace(namespace string) Option {
	return func(a *BusAdapter) { a.keys = streamkey.New(namespace) }
}

// WithStreamCap overrides the approximate per-stream entry cap the
// adapter's Publisher applies.
func WithStreamCap(cap int64) Option {
	return func(a *BusAdapter) { a.streamCap = cap }
}

// WithSubscriberOptions overrides the block/retry tuning every subscriber
// this adapter spawns uses.
func WithSubscriberOptions(opts SubscriberOptions) Option {
	return func(a *BusAdapter) { a.subscriberOpts = opts }
}

// WithLifecycleBus overrides the in-process events.Bus used for lifecycle
// notifications (defaults to a private memory-backed bus).
func WithLifecycleBus(lifecycle events.Bus) Option {
	return func(a *BusAdapter) { a.lifecycle = lifecycle }
}

// WithConfig applies the process-level configuration in one go: the
// StreamKeyBuilder namespace, the per-stream entry cap, and the envelope
// size limit. Individual With* options may still override single knobs.
func WithConfig(cfg Config) Option {
	return func(a *BusAdapter) {
		if cfg.Namespace != "" {
			a.keys = streamkey.New(cfg.Namespace)
		}
		if cfg.StreamMaxLen > 0 {
			a.streamCap = cfg.StreamMaxLen
		}
		if cfg.EnvelopeSizeLimit > 0 {
			a.sizeLimit = cfg.EnvelopeSizeLimit
		}
	}
}

// BusAdapter is the per-agent façade bundling static+dynamic subscription
// management, publish, and RPC. An agent never touches the
// broker directly.
type BusAdapter struct {
	agentID        string
	group          string
	coreHandler    HandlerFunc
	staticPatterns []string

	client    broker.Client
	publisher *Publisher
	rpc       *RPC
	registry  *AgentRegistry
	keys      streamkey.Builder
	lifecycle events.Bus

	streamCap      int64
	sizeLimit      int
	subscriberOpts SubscriberOptions

	mu      *concurrency.SmartMutex
	subs    map[string]*subscription
	baseCtx context.Context
}

// NewBusAdapter constructs a BusAdapter for agentID. coreHandler is the
// handler every static pattern in patterns is subscribed with; dynamic
// subscriptions added later via AddSubscription may use a different
// handler. The consumer group defaults to agentID.
func NewBusAdapter(agentID string, coreHandler HandlerFunc, client broker.Client, patterns []string, opts ...Option) *BusAdapter {
	a := &BusAdapter{
		agentID:        agentID,
		group:          agentID,
		coreHandler:    coreHandler,
		staticPatterns: patterns,
		client:         client,
		registry:       NewAgentRegistry(client),
		keys:           streamkey.New(""),
		lifecycle:      memevents.New(),
		streamCap:      10000,
		sizeLimit:      envelope.MaxSize,
		subscriberOpts: DefaultSubscriberOptions(),
		mu:             concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "BusAdapter:" + agentID}),
		subs:           map[string]*subscription{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.publisher = &Publisher{client: client, streamCap: a.streamCap, sizeLimit: a.sizeLimit}
	a.rpc = NewRPC(client, a.publisher, a.keys, agentID)
	return a
}

// Start registers the agent in the AgentRegistry, then spawns a
// ConsumerGroupSubscriber per static pattern. ctx bounds
// the lifetime of every spawned subscriber; cancelling it has the same
// effect as Stop without the registry cleanup.
func (a *BusAdapter) Start(ctx context.Context) error {
	a.baseCtx = ctx

	if _, err := a.registry.Register(ctx, a.agentID, nil); err != nil {
		return err
	}

	for _, pattern := range a.staticPatterns {
		if err := a.AddSubscription(pattern, a.coreHandler); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels every recorded subscription task, awaits each with a bounded
// per-task wait, then unregisters the agent.
func (a *BusAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for pattern, sub := range a.subs {
		subs = append(subs, sub)
		delete(a.subs, pattern)
	}
	a.mu.Unlock()

	for _, sub := range subs {
		a.awaitCancel(sub)
	}

	return a.registry.Unregister(ctx, a.agentID)
}

// AddSubscription spawns a ConsumerGroupSubscriber for pattern with handler,
// recording it so Stop/RemoveSubscription can cancel it later. It returns
// immediately; the subscriber runs in the background.
func (a *BusAdapter) AddSubscription(pattern string, handler HandlerFunc) error {
	base := a.baseCtx
	if base == nil {
		base = context.Background()
	}

	childCtx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	sub := &subscription{pattern: pattern, handler: handler, cancel: cancel, done: done}

	a.mu.Lock()
	if old, ok := a.subs[pattern]; ok {
		a.mu.Unlock()
		a.awaitCancel(old)
		a.mu.Lock()
	}
	a.subs[pattern] = sub
	a.mu.Unlock()

	subscriber := NewConsumerGroupSubscriber(a.client, pattern, a.group, handler, a.subscriberOpts)
	a.emitLifecycle(base, "subscription.started", pattern)

	concurrency.SafeGo(base, func() {
		defer close(done)
		if err := subscriber.Run(childCtx); err != nil && childCtx.Err() == nil {
			logger.L().ErrorContext(base, "subscriber exited unexpectedly", "agent_id", a.agentID, "pattern", pattern, "error", err)
		}
	})
	return nil
}

// RemoveSubscription cancels and forgets the subscriber for pattern,
// swallowing broker-closed errors (expected during shutdown races).
func (a *BusAdapter) RemoveSubscription(pattern string) error {
	a.mu.Lock()
	sub, ok := a.subs[pattern]
	if ok {
		delete(a.subs, pattern)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	a.awaitCancel(sub)
	return nil
}

func (a *BusAdapter) awaitCancel(sub *subscription) {
	sub.cancel()
	select {
	case <-sub.done:
	case <-time.After(subscriptionAwaitTimeout):
		logger.L().WarnContext(context.Background(), "subscriber did not exit within await timeout", "agent_id", a.agentID, "pattern", sub.pattern)
	}
	a.emitLifecycle(context.Background(), "subscription.stopped", sub.pattern)
}

func (a *BusAdapter) emitLifecycle(ctx context.Context, eventType, pattern string) {
	a.lifecycle.Publish(ctx, "bus.adapter."+a.agentID, events.Event{
		ID:        pattern,
		Type:      eventType,
		Source:    a.agentID,
		Timestamp: time.Now().UTC(),
		Payload:   pattern,
	})
}

// Publish delegates to the adapter's Publisher.
func (a *BusAdapter) Publish(ctx context.Context, stream string, env *envelope.Envelope) (string, error) {
	return a.publisher.Publish(ctx, stream, env)
}

// RequestResponse delegates to the adapter's RPC caller.
func (a *BusAdapter) RequestResponse(ctx context.Context, stream string, req *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	return a.rpc.Call(ctx, stream, req, timeout)
}

// WaitForNextMessage performs a raw groupless tail: it returns the first
// envelope arriving on stream from the current tip that satisfies
// predicate, or ErrTimeout.
func (a *BusAdapter) WaitForNextMessage(ctx context.Context, stream string, predicate func(*envelope.Envelope) bool, timeout time.Duration) (*envelope.Envelope, error) {
	deadline := time.Now().Add(timeout)
	cursor := "$"

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout("wait_for_next_message on " + stream + " timed out")
		}

		entries, err := a.client.Read(ctx, stream, cursor, 10, remaining.Milliseconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		for _, entry := range entries {
			cursor = entry.ID
			raw, ok := extractPayload(entry.Fields)
			if !ok {
				continue
			}
			env, err := envelope.FromBytes([]byte(raw))
			if err != nil {
				continue
			}
			if predicate == nil || predicate(env) {
				return env, nil
			}
		}
	}
}

// ListSubscriptions returns every currently active subscription pattern.
func (a *BusAdapter) ListSubscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.subs))
	for pattern := range a.subs {
		out = append(out, pattern)
	}
	return out
}

// DumpWiring returns one WiringEntry per active subscription, naming the
// handler function for introspection.
func (a *BusAdapter) DumpWiring() []WiringEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]WiringEntry, 0, len(a.subs))
	for pattern, sub := range a.subs {
		out = append(out, WiringEntry{Pattern: pattern, HandlerName: handlerName(sub.handler)})
	}
	return out
}

func handlerName(h HandlerFunc) string {
	ptr := reflect.ValueOf(h).Pointer()
	if fn := runtime.FuncForPC(ptr); fn != nil {
		return fn.Name()
	}
	return "unknown"
}
