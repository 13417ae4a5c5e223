// Package edge defines the reusable skeleton every protocol bridge follows:
// subscribe to a registration stream, remember the registered agent's inbox,
// forward inbound external traffic into it, and translate the agent's
// replies back out. Only the lifecycle is shared; each edge's wire
// protocol (Telegram, WebSocket, mail, Nostr, HTTP/SSE, A2A, MCP, LLM,
// ufetch, ...) is that edge's own concern. pkg/edge/adapters/kafka is the
// one concrete instantiation this module ships.
package edge

import (
	"context"
	"time"

	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/logger"
	"github.com/aetherbus/aetherbus/pkg/streamkey"
)

// Registration is what a Handler remembers about one addressable target
// after it receives a "register"-type envelope.
type Registration struct {
	PatternKey       string
	AgentInboxStream string
	AgentName        string
	RegisteredAt     time.Time
}

// Translator is the platform-specific half of an edge: everything that
// differs between Telegram, Kafka, mail, and so on. Handler supplies the
// bus-facing half (registration bookkeeping, stream wiring); Translator
// supplies the external-protocol half.
type Translator interface {
	// Platform names this edge for stream-key construction
	// (edge_register(platform), etc).
	Platform() string

	// Deliver sends payload to target over the external protocol, in
	// response to an envelope arriving on the registered target's
	// edge_response stream.
	Deliver(ctx context.Context, target string, payload []byte) error
}

// Handler implements the edge lifecycle atop a BusAdapter: it owns the
// registration bookkeeping and the register/stream/response stream wiring
// common to every edge; Translator owns the external-protocol specifics.
type Handler struct {
	adapter    *bus.BusAdapter
	translator Translator
	keys       streamkey.Builder

	mu            *concurrency.SmartMutex
	registrations map[string]Registration
}

// NewHandler wires translator behind adapter, which must already be
// subscribed (or about to be, via Start) to translator.Platform()'s
// registration stream.
func NewHandler(adapter *bus.BusAdapter, translator Translator, keys streamkey.Builder) *Handler {
	return &Handler{
		adapter:       adapter,
		translator:    translator,
		keys:          keys,
		mu:            concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "edge.Handler:" + translator.Platform()}),
		registrations: map[string]Registration{},
	}
}

// Start subscribes to the registration stream. Traffic and response streams
// for a given target are subscribed lazily, the moment that target
// registers, since their names depend on the registration payload.
func (h *Handler) Start(ctx context.Context) error {
	return h.adapter.AddSubscription(h.keys.EdgeRegister(h.translator.Platform()), bus.SimpleHandler(h.handleRegister))
}

// handleRegister processes a register-type envelope, recording the
// registration and subscribing to this target's traffic and response
// streams.
func (h *Handler) handleRegister(ctx context.Context, env *envelope.Envelope) error {
	if env.EnvelopeType != "register" {
		return nil
	}
	channelType, _ := env.Content["channel_type"].(string)
	if channelType != h.translator.Platform() {
		return nil
	}
	target, _ := env.Content["target"].(string)
	if target == "" {
		target = env.AgentName
	}
	inbox, _ := env.Content["agent_inbox_stream"].(string)

	reg := Registration{
		PatternKey:       channelType + ":" + target,
		AgentInboxStream: inbox,
		AgentName:        env.AgentName,
		RegisteredAt:     time.Now().UTC(),
	}

	h.mu.Lock()
	h.registrations[reg.PatternKey] = reg
	h.mu.Unlock()

	logger.L().InfoContext(ctx, "edge target registered", "platform", h.translator.Platform(), "target", target, "agent", reg.AgentName)

	if err := h.adapter.AddSubscription(h.keys.EdgeStream(h.translator.Platform(), target), bus.SimpleHandler(h.forwardToAgent(target, reg))); err != nil {
		return err
	}
	return h.adapter.AddSubscription(h.keys.EdgeResponse(h.translator.Platform(), target), bus.SimpleHandler(h.forwardToExternal(target)))
}

// forwardToAgent builds an agent-facing envelope for an inbound external
// event and publishes it to the registered agent's inbox.
func (h *Handler) forwardToAgent(target string, reg Registration) func(ctx context.Context, env *envelope.Envelope) error {
	return func(ctx context.Context, env *envelope.Envelope) error {
		out := envelope.New("user_interface_event",
			envelope.WithEnvelopeType(env.EnvelopeType),
			envelope.WithContent(env.Content),
			envelope.WithTarget(target),
			envelope.WithReplyTo(h.keys.EdgeResponse(h.translator.Platform(), target)),
		)
		_, err := h.adapter.Publish(ctx, reg.AgentInboxStream, out)
		return err
	}
}

// forwardToExternal translates an agent's reply back into the external
// protocol's wire form and delivers it.
func (h *Handler) forwardToExternal(target string) func(ctx context.Context, env *envelope.Envelope) error {
	return func(ctx context.Context, env *envelope.Envelope) error {
		payload, err := env.ToBytes()
		if err != nil {
			return err
		}
		return h.translator.Deliver(ctx, target, payload)
	}
}

// Registrations returns a snapshot of every target currently registered.
func (h *Handler) Registrations() []Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Registration, 0, len(h.registrations))
	for _, reg := range h.registrations {
		out = append(out, reg)
	}
	return out
}
