package bus

import (
	"context"
	"errors"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/logger"
	"github.com/google/uuid"
)

// payloadKeys lists the entry field names a ConsumerGroupSubscriber accepts,
// in priority order. Every Publisher in this module writes only dataField,
// but older producers used "envelope", and
// some wrote byte-keyed field names that decode to these same strings once
// the broker adapter has stringified them.
var payloadKeys = []string{"data", "envelope"}

// SubscriberOptions configures a ConsumerGroupSubscriber.
type SubscriberOptions struct {
	// Consumer is this member's name within Group. Defaults to a random uuid.
	Consumer string

	// BlockMS bounds each broker read-group call so cancellation is
	// observed promptly.
	BlockMS int64

	// DeadLetterMax is the number of retries tolerated before an entry is
	// acknowledged and dropped.
	DeadLetterMax int
}

// DefaultSubscriberOptions returns the default block and retry tuning.
func DefaultSubscriberOptions() SubscriberOptions {
	return SubscriberOptions{BlockMS: 1000, DeadLetterMax: 3}
}

// ConsumerGroupSubscriber runs the core read/decode/dispatch/ack loop
// against one (stream, group) pair.
type ConsumerGroupSubscriber struct {
	client  broker.Client
	stream  string
	group   string
	handler HandlerFunc
	opts    SubscriberOptions

	attempts map[string]int
}

// NewConsumerGroupSubscriber constructs a subscriber. Call Run to start the
// loop; Run blocks until ctx is cancelled.
func NewConsumerGroupSubscriber(client broker.Client, stream, group string, handler HandlerFunc, opts SubscriberOptions) *ConsumerGroupSubscriber {
	if opts.Consumer == "" {
		opts.Consumer = uuid.New().String()
	}
	if opts.BlockMS <= 0 {
		opts.BlockMS = 1000
	}
	if opts.DeadLetterMax <= 0 {
		opts.DeadLetterMax = 3
	}
	return &ConsumerGroupSubscriber{
		client:   client,
		stream:   stream,
		group:    group,
		handler:  handler,
		opts:     opts,
		attempts: map[string]int{},
	}
}

// Run ensures the group exists then loops reading, decoding, dispatching,
// acking, and retrying entries until ctx is cancelled. Cancellation returns
// cleanly, leaving any in-flight entry un-acked for another group member to
// claim.
func (s *ConsumerGroupSubscriber) Run(ctx context.Context) error {
	if err := s.client.EnsureGroup(ctx, s.stream, s.group); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Retry un-acked entries from a previous failed dispatch before
		// asking for new ones.
		cursor := ">"
		if len(s.attempts) > 0 {
			cursor = "0"
		}

		entries, err := s.client.ReadGroup(ctx, s.stream, s.group, s.opts.Consumer, cursor, 1, s.opts.BlockMS)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// BrokerTransient: sleep and retry the outer loop,
			// counters survive since s.attempts is untouched.
			logger.L().WarnContext(ctx, "broker read-group failed, retrying", "stream", s.stream, "group", s.group, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if len(entries) == 0 {
			if cursor == "0" {
				// Pending entries vanished (claimed elsewhere or trimmed);
				// their counters are meaningless now.
				clear(s.attempts)
			}
			continue
		}

		for _, entry := range entries {
			s.process(ctx, entry)
		}
	}
}

func (s *ConsumerGroupSubscriber) process(ctx context.Context, entry broker.Entry) {
	raw, ok := extractPayload(entry.Fields)
	if !ok {
		logger.L().WarnContext(ctx, "entry missing payload field, skipping", "stream", s.stream, "group", s.group, "id", entry.ID)
		s.ackAndForget(ctx, entry.ID)
		return
	}

	env, err := envelope.FromBytes([]byte(raw))
	if err != nil {
		logger.L().ErrorContext(ctx, "decode failed, acking malformed entry", "stream", s.stream, "group", s.group, "id", entry.ID, "error", err)
		s.ackAndForget(ctx, entry.ID)
		return
	}
	env.AddHop("bus_subscribe")

	err = s.handler(ctx, env, s.client)
	if err == nil {
		if ackErr := s.client.Ack(ctx, s.stream, s.group, entry.ID); ackErr != nil {
			logger.L().ErrorContext(ctx, "ack failed", "stream", s.stream, "group", s.group, "id", entry.ID, "error", ackErr)
		}
		delete(s.attempts, entry.ID)
		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}

	s.attempts[entry.ID]++
	if s.attempts[entry.ID] > s.opts.DeadLetterMax {
		logger.L().ErrorContext(ctx, "dead-lettering entry after exceeding retry bound", "stream", s.stream, "group", s.group, "id", entry.ID, "attempts", s.attempts[entry.ID])
		s.ackAndForget(ctx, entry.ID)
		return
	}

	logger.L().WarnContext(ctx, "handler failed, entry will be retried", "stream", s.stream, "group", s.group, "id", entry.ID, "attempt", s.attempts[entry.ID], "error", err)
}

func (s *ConsumerGroupSubscriber) ackAndForget(ctx context.Context, id string) {
	if err := s.client.Ack(ctx, s.stream, s.group, id); err != nil {
		logger.L().ErrorContext(ctx, "ack failed", "stream", s.stream, "group", s.group, "id", id, "error", err)
	}
	delete(s.attempts, id)
}

func extractPayload(fields map[string]string) (string, bool) {
	for _, key := range payloadKeys {
		if v, ok := fields[key]; ok {
			return v, true
		}
	}
	return "", false
}
