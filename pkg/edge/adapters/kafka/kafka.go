// Package kafka is a concrete, in-scope instantiation of the
// EdgeHandlerPattern contract: it bridges AetherBus to a Kafka
// topic, demonstrating registration -> forward -> response wiring without
// implementing any of the explicitly out-of-scope edges (Telegram,
// AetherDeck-WebSocket, mail, Nostr, HTTP/SSE, A2A, MCP, LLM, ufetch).
//
// # Dependencies
//
// This package requires: github.com/IBM/sarama
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	"github.com/aetherbus/aetherbus/pkg/envelope"
	"github.com/aetherbus/aetherbus/pkg/logger"
	"github.com/aetherbus/aetherbus/pkg/streamkey"
)

// Config holds the Kafka-specific connection settings.
type Config struct {
	Brokers  []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic    string   `env:"KAFKA_EDGE_TOPIC" env-default:"aetherbus-edge"`
	Platform string   `env:"KAFKA_EDGE_PLATFORM" env-default:"kafka"`
}

// Edge is an edge.Translator backed by a Kafka topic: a sarama sync
// producer realises Deliver (agent reply -> external), and Run drains the
// topic's partitions, realising the inbound half (external -> edge_stream)
// that the generic edge.Handler then forwards to the registered agent.
type Edge struct {
	cfg      Config
	adapter  *bus.BusAdapter
	keys     streamkey.Builder
	producer sarama.SyncProducer
	consumer sarama.Consumer
}

// New connects a sync producer and a consumer to cfg.Brokers.
func New(cfg Config, adapter *bus.BusAdapter, keys streamkey.Builder) (*Edge, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("edge/kafka: new sync producer: %w", err)
	}

	consumer, err := sarama.NewConsumer(cfg.Brokers, saramaCfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("edge/kafka: new consumer: %w", err)
	}

	return &Edge{cfg: cfg, adapter: adapter, keys: keys, producer: producer, consumer: consumer}, nil
}

// Platform names this edge for stream-key construction.
func (e *Edge) Platform() string { return e.cfg.Platform }

// Deliver publishes payload to the Kafka topic, keyed by target, realising
// the agent-reply-to-external half of the edge.
func (e *Edge) Deliver(ctx context.Context, target string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: e.cfg.Topic,
		Key:   sarama.StringEncoder(target),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err := e.producer.SendMessage(msg)
	return err
}

// Run drains every partition of the Kafka topic, translating each record
// into an Envelope and publishing it to this platform's edge_stream for
// whatever target the record's key names. It blocks
// until ctx is cancelled.
func (e *Edge) Run(ctx context.Context) error {
	partitions, err := e.consumer.Partitions(e.cfg.Topic)
	if err != nil {
		return fmt.Errorf("edge/kafka: list partitions: %w", err)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, partition := range partitions {
		pc, err := e.consumer.ConsumePartition(e.cfg.Topic, partition, sarama.OffsetNewest)
		if err != nil {
			for _, opened := range pcs {
				opened.Close()
			}
			return fmt.Errorf("edge/kafka: consume partition %d: %w", partition, err)
		}
		pcs = append(pcs, pc)
	}

	concurrency.FanOut(ctx, len(pcs), func(i int) {
		defer pcs[i].Close()
		e.drain(ctx, pcs[i])
	})
	return ctx.Err()
}

func (e *Edge) drain(ctx context.Context, pc sarama.PartitionConsumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			target := string(msg.Key)
			if target == "" {
				target = "broadcast"
			}
			env := envelope.New("bridge_service",
				envelope.WithEnvelopeType("message"),
				envelope.WithTarget(target),
				envelope.WithContent(map[string]any{"raw": string(msg.Value)}),
			)
			if _, err := e.adapter.Publish(ctx, e.keys.EdgeStream(e.cfg.Platform, target), env); err != nil {
				logger.L().ErrorContext(ctx, "edge/kafka: failed to forward inbound record", "target", target, "error", err)
			}
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			logger.L().ErrorContext(ctx, "edge/kafka: partition consumer error", "error", err)
		}
	}
}

// Close releases the producer and consumer.
func (e *Edge) Close() error {
	perr := e.producer.Close()
	cerr := e.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}
