package broker

import (
	"context"

	"github.com/aetherbus/aetherbus/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps a Client with structured logging and OTel tracing
// around every suspension point.
type InstrumentedClient struct {
	next   Client
	tracer trace.Tracer
}

// NewInstrumentedClient wraps next.
func NewInstrumentedClient(next Client) *InstrumentedClient {
	return &InstrumentedClient{next: next, tracer: otel.Tracer("pkg/broker")}
}

func (c *InstrumentedClient) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (c *InstrumentedClient) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (c *InstrumentedClient) EnsureGroup(ctx context.Context, stream, group string) error {
	ctx, span := c.span(ctx, "broker.EnsureGroup", attribute.String("stream", stream), attribute.String("group", group))
	err := c.next.EnsureGroup(ctx, stream, group)
	c.finish(span, err)
	return err
}

func (c *InstrumentedClient) Append(ctx context.Context, stream string, fields map[string]string, capEntries int64) (string, error) {
	ctx, span := c.span(ctx, "broker.Append", attribute.String("stream", stream))
	id, err := c.next.Append(ctx, stream, fields, capEntries)
	if err != nil {
		logger.L().ErrorContext(ctx, "append failed", "stream", stream, "error", err)
	}
	c.finish(span, err)
	return id, err
}

func (c *InstrumentedClient) Exists(ctx context.Context, stream string) (bool, error) {
	ctx, span := c.span(ctx, "broker.Exists", attribute.String("stream", stream))
	ok, err := c.next.Exists(ctx, stream)
	c.finish(span, err)
	return ok, err
}

func (c *InstrumentedClient) Scan(ctx context.Context, cursor uint64, pattern string) (uint64, []string, error) {
	ctx, span := c.span(ctx, "broker.Scan", attribute.String("pattern", pattern))
	next, names, err := c.next.Scan(ctx, cursor, pattern)
	c.finish(span, err)
	return next, names, err
}

func (c *InstrumentedClient) ReadGroup(ctx context.Context, stream, group, consumer, cursor string, count, blockMS int64) ([]Entry, error) {
	ctx, span := c.span(ctx, "broker.ReadGroup", attribute.String("stream", stream), attribute.String("group", group))
	entries, err := c.next.ReadGroup(ctx, stream, group, consumer, cursor, count, blockMS)
	if err != nil {
		logger.L().ErrorContext(ctx, "read-group failed", "stream", stream, "group", group, "error", err)
	}
	c.finish(span, err)
	return entries, err
}

func (c *InstrumentedClient) Read(ctx context.Context, stream, fromID string, count, blockMS int64) ([]Entry, error) {
	ctx, span := c.span(ctx, "broker.Read", attribute.String("stream", stream))
	entries, err := c.next.Read(ctx, stream, fromID, count, blockMS)
	c.finish(span, err)
	return entries, err
}

func (c *InstrumentedClient) Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error) {
	ctx, span := c.span(ctx, "broker.Range", attribute.String("stream", stream))
	entries, err := c.next.Range(ctx, stream, from, to, count)
	c.finish(span, err)
	return entries, err
}

func (c *InstrumentedClient) Ack(ctx context.Context, stream, group, id string) error {
	ctx, span := c.span(ctx, "broker.Ack", attribute.String("stream", stream), attribute.String("group", group), attribute.String("id", id))
	err := c.next.Ack(ctx, stream, group, id)
	c.finish(span, err)
	return err
}

func (c *InstrumentedClient) SetAdd(ctx context.Context, set, member string) (bool, error) {
	ctx, span := c.span(ctx, "broker.SetAdd", attribute.String("set", set))
	added, err := c.next.SetAdd(ctx, set, member)
	c.finish(span, err)
	return added, err
}

func (c *InstrumentedClient) SetRem(ctx context.Context, set, member string) error {
	ctx, span := c.span(ctx, "broker.SetRem", attribute.String("set", set))
	err := c.next.SetRem(ctx, set, member)
	c.finish(span, err)
	return err
}

func (c *InstrumentedClient) SetHas(ctx context.Context, set, member string) (bool, error) {
	ctx, span := c.span(ctx, "broker.SetHas", attribute.String("set", set))
	ok, err := c.next.SetHas(ctx, set, member)
	c.finish(span, err)
	return ok, err
}

func (c *InstrumentedClient) MapSet(ctx context.Context, key string, fields map[string]string) error {
	ctx, span := c.span(ctx, "broker.MapSet", attribute.String("key", key))
	err := c.next.MapSet(ctx, key, fields)
	c.finish(span, err)
	return err
}

func (c *InstrumentedClient) MapDel(ctx context.Context, key string) error {
	ctx, span := c.span(ctx, "broker.MapDel", attribute.String("key", key))
	err := c.next.MapDel(ctx, key)
	c.finish(span, err)
	return err
}

func (c *InstrumentedClient) Close() error {
	logger.L().Info("closing broker client")
	return c.next.Close()
}

func (c *InstrumentedClient) Healthy(ctx context.Context) bool {
	return c.next.Healthy(ctx)
}
