package bus_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	memorybroker "github.com/aetherbus/aetherbus/pkg/broker/adapters/memory"
	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/test"
)

type SubscriberSuite struct {
	test.Suite
}

func TestSubscriberSuite(t *testing.T) {
	test.Run(t, new(SubscriberSuite))
}

// TestPublishAndConsume: a published envelope is
// observed by a group member with a bus_subscribe trace hop appended.
func (s *SubscriberSuite) TestPublishAndConsume() {
	client := memorybroker.New()
	defer client.Close()
	pub := bus.NewPublisher(client, 10000)

	stream := "AG1:agent:pa0:inbox"
	env := envelope.New("user", envelope.WithContent(map[string]any{"text": "hello"}), envelope.WithUserID("Sean"))
	_, err := pub.Publish(s.Ctx, stream, env)
	s.Require().NoError(err)

	received := make(chan *envelope.Envelope, 1)
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		received <- env
		return nil
	})

	ctx, cancel := context.WithTimeout(s.Ctx, 2*time.Second)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "pa0", handler, bus.SubscriberOptions{BlockMS: 100})
	go sub.Run(ctx)

	select {
	case got := <-received:
		s.Equal("hello", got.Content["text"])
		s.Require().NotEmpty(got.Trace)
		s.True(strings.HasPrefix(got.Trace[0], "bus_subscribe:"))
	case <-time.After(time.Second):
		s.Fail("handler was never invoked")
	}
}

// TestRetryAndDeadLetter: a handler that always
// fails is invoked dead-letter-max+1 times, then the entry is acked.
func (s *SubscriberSuite) TestRetryAndDeadLetter() {
	client := memorybroker.New()
	defer client.Close()
	pub := bus.NewPublisher(client, 10000)

	stream := "AG1:agent:retry:inbox"
	env := envelope.New("user")
	_, err := pub.Publish(s.Ctx, stream, env)
	s.Require().NoError(err)

	var mu sync.Mutex
	invocations := 0
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		mu.Lock()
		invocations++
		mu.Unlock()
		return errors.New("handler always fails")
	})

	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "retry-group", handler, bus.SubscriberOptions{Consumer: "c1", BlockMS: 50, DeadLetterMax: 3})
	go sub.Run(ctx)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invocations == 4
	}, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(client.EnsureGroup(s.Ctx, stream, "retry-group"))
	pending, err := client.ReadGroup(s.Ctx, stream, "retry-group", "c1", "0", 10, 0)
	s.Require().NoError(err)
	s.Empty(pending, "dead-lettered entry must be acked")
}

// TestRetryThenSuccessClearsCounter: a handler that fails twice then
// succeeds is invoked exactly three times, and the entry ends up acked with
// nothing left pending.
func (s *SubscriberSuite) TestRetryThenSuccessClearsCounter() {
	client := memorybroker.New()
	defer client.Close()
	pub := bus.NewPublisher(client, 10000)

	stream := "AG1:agent:flaky:inbox"
	_, err := pub.Publish(s.Ctx, stream, envelope.New("user"))
	s.Require().NoError(err)

	var mu sync.Mutex
	invocations := 0
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		invocations++
		if invocations < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "flaky-group", handler, bus.SubscriberOptions{Consumer: "c1", BlockMS: 50, DeadLetterMax: 5})
	go sub.Run(ctx)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invocations == 3
	}, 2*time.Second, 10*time.Millisecond)

	s.Require().Eventually(func() bool {
		pending, err := client.ReadGroup(s.Ctx, stream, "flaky-group", "c1", "0", 10, 0)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal(3, invocations)
}

// TestDecodeErrorIsAckedNotRetried: a malformed payload
// is logged and acked on the first attempt, never redelivered.
func (s *SubscriberSuite) TestDecodeErrorIsAckedNotRetried() {
	client := memorybroker.New()
	defer client.Close()

	stream := "AG1:agent:malformed:inbox"
	_, err := client.Append(s.Ctx, stream, map[string]string{"data": "not json"}, 0)
	s.Require().NoError(err)

	calls := 0
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		calls++
		return nil
	})

	ctx, cancel := context.WithTimeout(s.Ctx, 300*time.Millisecond)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "malformed-group", handler, bus.SubscriberOptions{BlockMS: 50})
	_ = sub.Run(ctx)

	s.Equal(0, calls, "a decode error must never reach the handler")

	pending, err := client.ReadGroup(s.Ctx, stream, "malformed-group", "c", "0", 10, 0)
	s.Require().NoError(err)
	s.Empty(pending, "malformed entry must be acked, not retried")
}

// TestMissingPayloadFieldIsSkippedAndAcked: absence of a
// recognised payload key means skip + ack, never a handler invocation.
func (s *SubscriberSuite) TestMissingPayloadFieldIsSkippedAndAcked() {
	client := memorybroker.New()
	defer client.Close()

	stream := "AG1:agent:nopayload:inbox"
	_, err := client.Append(s.Ctx, stream, map[string]string{"unexpected": "x"}, 0)
	s.Require().NoError(err)

	calls := 0
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		calls++
		return nil
	})

	ctx, cancel := context.WithTimeout(s.Ctx, 300*time.Millisecond)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "nopayload-group", handler, bus.SubscriberOptions{BlockMS: 50})
	_ = sub.Run(ctx)

	s.Equal(0, calls)
}

// TestAcceptsLegacyEnvelopeFieldKey: readers must
// tolerate the "envelope" field name alongside the canonical "data" key.
func (s *SubscriberSuite) TestAcceptsLegacyEnvelopeFieldKey() {
	client := memorybroker.New()
	defer client.Close()

	stream := "AG1:agent:legacy:inbox"
	env := envelope.New("agent")
	data, err := env.ToBytes()
	s.Require().NoError(err)
	_, err = client.Append(s.Ctx, stream, map[string]string{"envelope": string(data)}, 0)
	s.Require().NoError(err)

	received := make(chan *envelope.Envelope, 1)
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		received <- env
		return nil
	})

	ctx, cancel := context.WithTimeout(s.Ctx, time.Second)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "legacy-group", handler, bus.SubscriberOptions{BlockMS: 50})
	go sub.Run(ctx)

	select {
	case got := <-received:
		s.Equal(env.EnvelopeID, got.EnvelopeID)
	case <-time.After(time.Second):
		s.Fail("legacy envelope-keyed entry was never decoded")
	}
}

// TestOrderingPreservedWithoutFailures: with no handler failures, entries
// are observed in publish order.
func (s *SubscriberSuite) TestOrderingPreservedWithoutFailures() {
	client := memorybroker.New()
	defer client.Close()
	pub := bus.NewPublisher(client, 10000)

	stream := "AG1:agent:order:inbox"
	for _, text := range []string{"a", "b", "c"} {
		env := envelope.New("user", envelope.WithContent(map[string]any{"text": text}))
		_, err := pub.Publish(s.Ctx, stream, env)
		s.Require().NoError(err)
	}

	var mu sync.Mutex
	var seen []string
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		mu.Lock()
		seen = append(seen, env.Content["text"].(string))
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithTimeout(s.Ctx, time.Second)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "order-group", handler, bus.SubscriberOptions{BlockMS: 50})
	go sub.Run(ctx)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"a", "b", "c"}, seen)
}
