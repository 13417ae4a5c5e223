package bus

import (
	"context"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/logger"
)

// dataField is the canonical field name a Publisher writes every envelope
// under. Older producers used other keys; readers accept those on decode,
// but every writer in this module uses only this one.
const dataField = "data"

// Publisher is the size-checked append primitive.
type Publisher struct {
	client    broker.Client
	streamCap int64
	sizeLimit int
}

// NewPublisher creates a Publisher bound to client, capping every stream it
// writes to streamCap entries (0 disables trimming) and rejecting envelopes
// that serialize beyond envelope.MaxSize.
func NewPublisher(client broker.Client, streamCap int64) *Publisher {
	return &Publisher{client: client, streamCap: streamCap, sizeLimit: envelope.MaxSize}
}

// NewPublisherFromConfig creates a Publisher tuned by cfg: StreamMaxLen caps
// each stream and EnvelopeSizeLimit gates serialized size.
func NewPublisherFromConfig(client broker.Client, cfg Config) *Publisher {
	p := NewPublisher(client, cfg.StreamMaxLen)
	if cfg.EnvelopeSizeLimit > 0 {
		p.sizeLimit = cfg.EnvelopeSizeLimit
	}
	return p
}

// Publish serializes env and appends it to stream, rejecting oversize
// envelopes before ever touching the broker.
func (p *Publisher) Publish(ctx context.Context, stream string, env *envelope.Envelope) (string, error) {
	data, err := env.ToBytes()
	if err != nil {
		return "", err
	}
	if len(data) > p.sizeLimit {
		return "", envelope.ErrPayloadTooLarge(len(data), p.sizeLimit)
	}

	id, err := p.client.Append(ctx, stream, map[string]string{dataField: string(data)}, p.streamCap)
	if err != nil {
		logger.L().ErrorContext(ctx, "publish failed", "stream", stream, "envelope_id", env.EnvelopeID, "error", err)
		return "", err
	}
	return id, nil
}
