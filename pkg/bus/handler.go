package bus

import (
	"context"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/envelope"
)

// HandlerFunc is the one declared handler shape a ConsumerGroupSubscriber
// dispatches to. Handlers that only need the envelope are adapted with
// SimpleHandler at registration.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope, client broker.Client) error

// SimpleHandler wraps a single-argument handler so it satisfies HandlerFunc,
// for callers that never need direct broker access.
func SimpleHandler(fn func(ctx context.Context, env *envelope.Envelope) error) HandlerFunc {
	return func(ctx context.Context, env *envelope.Envelope, _ broker.Client) error {
		return fn(ctx, env)
	}
}
