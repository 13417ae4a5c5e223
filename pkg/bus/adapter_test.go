package bus_test

import (
	"context"
	"strings"
	"testing"
	"time"

	memorybroker "github.com/aetherbus/aetherbus/pkg/broker/adapters/memory"
	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/streamkey"
	"github.com/aetherbus/aetherbus/pkg/test"
)

type AdapterSuite struct {
	test.Suite
}

func TestAdapterSuite(t *testing.T) {
	test.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) TestStartRegistersAgentAndSubscribesStaticPatterns() {
	client := memorybroker.New()
	defer client.Close()
	keys := streamkey.New("AG1")
	stream := keys.AgentInbox("pa0")

	received := make(chan *envelope.Envelope, 1)
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		received <- env
		return nil
	})

	adapter := bus.NewBusAdapter("pa0", handler, client, []string{stream}, bus.WithSubscriberOptions(bus.SubscriberOptions{BlockMS: 50}))

	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Require().NoError(adapter.Start(ctx))

	registry := bus.NewAgentRegistry(client)
	registered, err := registry.IsRegistered(s.Ctx, "pa0")
	s.Require().NoError(err)
	s.True(registered)

	_, err = adapter.Publish(s.Ctx, stream, envelope.New("user", envelope.WithContent(map[string]any{"text": "hi"})))
	s.Require().NoError(err)

	select {
	case got := <-received:
		s.Equal("hi", got.Content["text"])
	case <-time.After(time.Second):
		s.Fail("static subscription never invoked handler")
	}

	s.Require().NoError(adapter.Stop(s.Ctx))
	registered, err = registry.IsRegistered(s.Ctx, "pa0")
	s.Require().NoError(err)
	s.False(registered)
}

func (s *AdapterSuite) TestAddAndRemoveDynamicSubscription() {
	client := memorybroker.New()
	defer client.Close()

	adapter := bus.NewBusAdapter("agent-x", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, nil)
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Require().NoError(adapter.Start(ctx))
	defer adapter.Stop(s.Ctx)

	calls := make(chan struct{}, 1)
	err := adapter.AddSubscription("AG1:dyn:stream", bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		calls <- struct{}{}
		return nil
	}))
	s.Require().NoError(err)
	s.Contains(adapter.ListSubscriptions(), "AG1:dyn:stream")

	_, err = adapter.Publish(s.Ctx, "AG1:dyn:stream", envelope.New("user"))
	s.Require().NoError(err)

	select {
	case <-calls:
	case <-time.After(time.Second):
		s.Fail("dynamic subscription never invoked handler")
	}

	s.Require().NoError(adapter.RemoveSubscription("AG1:dyn:stream"))
	s.NotContains(adapter.ListSubscriptions(), "AG1:dyn:stream")
}

func (s *AdapterSuite) TestWithConfigTunesPublisherAndNamespace() {
	client := memorybroker.New()
	defer client.Close()

	cfg := bus.Config{Namespace: "CFGNS", StreamMaxLen: 5000, EnvelopeSizeLimit: 1024}
	adapter := bus.NewBusAdapter("cfg-agent", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, nil, bus.WithConfig(cfg))

	big := envelope.New("user", envelope.WithContent(map[string]any{"text": strings.Repeat("x", 2000)}))
	_, err := adapter.Publish(s.Ctx, "CFGNS:agent:other:inbox", big)
	s.Require().Error(err, "configured envelope size limit must gate adapter publishes")

	req := envelope.New("user")
	_, err = adapter.RequestResponse(s.Ctx, "CFGNS:agent:nobody:inbox", req, 100*time.Millisecond)
	s.Require().Error(err)
	s.True(bus.IsTimeout(err))
	s.True(strings.HasPrefix(req.ReplyTo, "CFGNS:rpc_reply:cfg-agent:"), "reply stream must use the configured namespace, got %s", req.ReplyTo)
}

func (s *AdapterSuite) TestWaitForNextMessageMatchesPredicate() {
	client := memorybroker.New()
	defer client.Close()
	pub := bus.NewPublisher(client, 10000)

	adapter := bus.NewBusAdapter("waiter", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, nil)

	stream := "AG1:session:s1:stream"
	type result struct {
		env *envelope.Envelope
		err error
	}
	got := make(chan result, 1)
	go func() {
		env, err := adapter.WaitForNextMessage(s.Ctx, stream, func(e *envelope.Envelope) bool {
			return e.EnvelopeType == "event"
		}, time.Second)
		got <- result{env, err}
	}()

	time.Sleep(50 * time.Millisecond)

	_, err := pub.Publish(s.Ctx, stream, envelope.New("user"))
	s.Require().NoError(err)
	_, err = pub.Publish(s.Ctx, stream, envelope.New("system", envelope.WithEnvelopeType("event")))
	s.Require().NoError(err)

	select {
	case r := <-got:
		s.Require().NoError(r.err)
		s.Equal("event", r.env.EnvelopeType)
	case <-time.After(2 * time.Second):
		s.Fail("wait_for_next_message never returned")
	}
}

func (s *AdapterSuite) TestWaitForNextMessageTimesOut() {
	client := memorybroker.New()
	defer client.Close()

	adapter := bus.NewBusAdapter("waiter-2", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, nil)

	_, err := adapter.WaitForNextMessage(s.Ctx, "AG1:session:empty:stream", nil, 100*time.Millisecond)
	s.Require().Error(err)
	s.True(bus.IsTimeout(err))
}

func (s *AdapterSuite) TestDumpWiringNamesHandlers() {
	client := memorybroker.New()
	defer client.Close()

	adapter := bus.NewBusAdapter("introspect", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, []string{"AG1:agent:introspect:inbox"})
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Require().NoError(adapter.Start(ctx))
	defer adapter.Stop(s.Ctx)

	wiring := adapter.DumpWiring()
	s.Require().Len(wiring, 1)
	s.Equal("AG1:agent:introspect:inbox", wiring[0].Pattern)
	s.NotEmpty(wiring[0].HandlerName)
}

func (s *AdapterSuite) TestRequestResponseDelegatesToRPC() {
	client := memorybroker.New()
	defer client.Close()
	keys := streamkey.New("AG1")
	stream := keys.AgentInbox("echo")

	pub := bus.NewPublisher(client, 10000)
	handler := bus.SimpleHandler(func(ctx context.Context, env *envelope.Envelope) error {
		reply := envelope.New("agent", envelope.WithCorrelationID(env.CorrelationID), envelope.WithContent(map[string]any{"pong": 1}))
		_, err := pub.Publish(ctx, env.ReplyTo, reply)
		return err
	})

	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	sub := bus.NewConsumerGroupSubscriber(client, stream, "echo", handler, bus.SubscriberOptions{BlockMS: 50})
	go sub.Run(ctx)

	caller := bus.NewBusAdapter("caller", bus.SimpleHandler(func(context.Context, *envelope.Envelope) error { return nil }), client, nil)
	reply, err := caller.RequestResponse(s.Ctx, stream, envelope.New("user", envelope.WithCorrelationID("cid-x")), time.Second)
	s.Require().NoError(err)
	s.EqualValues(1, reply.Content["pong"])
}
