package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/logger"
	"github.com/aetherbus/aetherbus/pkg/streamkey"
	"github.com/google/uuid"
)

// RPC composes a Publisher with a transient groupless tail on the request's
// reply stream to implement request/reply over the bus.
type RPC struct {
	client    broker.Client
	publisher *Publisher
	keys      streamkey.Builder
	agentID   string
}

// NewRPC creates an RPC caller identified as agentID (used to name
// auto-generated reply streams), publishing through publisher.
func NewRPC(client broker.Client, publisher *Publisher, keys streamkey.Builder, agentID string) *RPC {
	return &RPC{client: client, publisher: publisher, keys: keys, agentID: agentID}
}

// prepare fills req.ReplyTo and req.CorrelationID if unset, returning the
// reply stream the caller must tail.
func (r *RPC) prepare(req *envelope.Envelope) string {
	if req.ReplyTo == "" {
		req.ReplyTo = r.keys.RPCReply(r.agentID, uuid.New().String())
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	return req.ReplyTo
}

// Call publishes req to stream and waits up to timeout for a reply on
// req.ReplyTo whose correlation_id matches. It returns ErrTimeout if no
// matching reply arrives in time.
func (r *RPC) Call(ctx context.Context, stream string, req *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	replyStream := r.prepare(req)

	if _, err := r.publisher.Publish(ctx, stream, req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	cursor := "$"

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout(fmt.Sprintf("rpc_call to %s timed out after %s waiting for correlation_id %s", stream, timeout, req.CorrelationID))
		}

		entries, err := r.client.Read(ctx, replyStream, cursor, 10, remaining.Milliseconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.L().WarnContext(ctx, "rpc reply read failed, retrying", "reply_stream", replyStream, "error", err)
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
				logger.L().WarnContext(ctx, "malformed entry on rpc reply stream, skipping", "reply_stream", replyStream, "error", err)
				continue
			}
			if env.CorrelationID == req.CorrelationID {
				return env, nil
			}
		}
	}
}

// Stream publishes req to stream and returns a channel yielding every
// well-formed envelope arriving on req.ReplyTo, in broker insertion order,
// until timeout elapses or ctx is cancelled. The channel is closed when the
// call ends; correlation-id matching is left to the caller.
func (r *RPC) Stream(ctx context.Context, stream string, req *envelope.Envelope, timeout time.Duration) (<-chan *envelope.Envelope, error) {
	replyStream := r.prepare(req)

	if _, err := r.publisher.Publish(ctx, stream, req); err != nil {
		return nil, err
	}

	out := make(chan *envelope.Envelope)
	deadline := time.Now().Add(timeout)

	concurrency.SafeGo(ctx, func() {
		defer close(out)
		cursor := "$"
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return
			}

			entries, err := r.client.Read(ctx, replyStream, cursor, 10, remaining.Milliseconds())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.L().WarnContext(ctx, "rpc stream read failed, retrying", "reply_stream", replyStream, "error", err)
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
					logger.L().WarnContext(ctx, "malformed entry on rpc reply stream, skipping", "reply_stream", replyStream, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	})

	return out, nil
}
