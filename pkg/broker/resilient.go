package broker

import (
	"context"
	"time"

	"github.com/aetherbus/aetherbus/pkg/resilience"
)

// ResilientConfig configures the resilient client wrapper.
type ResilientConfig struct {
	CircuitBreakerEnabled   bool          `env:"BROKER_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"BROKER_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"BROKER_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"BROKER_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"BROKER_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"BROKER_RETRY_BACKOFF" env-default:"100ms"`
}

// ResilientClient wraps a Client with circuit breaker and retry around the
// mutating/append-path operations. Blocking reads (ReadGroup/Read) are left
// unwrapped: their own block-ms ceiling and the subscriber's outer retry
// loop already provide backoff, and wrapping them here would double the
// wait on every empty poll.
type ResilientClient struct {
	client   Client
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewResilientClient wraps client with resilience features per cfg.
func NewResilientClient(client Client, cfg ResilientConfig) *ResilientClient {
	rc := &ResilientClient{client: client}

	if cfg.CircuitBreakerEnabled {
		rc.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "broker",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rc.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		}
	}

	return rc
}

func (rc *ResilientClient) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if rc.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return rc.cb.Execute(ctx, cbFn)
		}
	}

	if rc.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, rc.retryCfg, operation)
	}

	return operation(ctx)
}

func (rc *ResilientClient) EnsureGroup(ctx context.Context, stream, group string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.client.EnsureGroup(ctx, stream, group)
	})
}

func (rc *ResilientClient) Append(ctx context.Context, stream string, fields map[string]string, capEntries int64) (string, error) {
	var id string
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = rc.client.Append(ctx, stream, fields, capEntries)
		return err
	})
	return id, err
}

func (rc *ResilientClient) Exists(ctx context.Context, stream string) (bool, error) {
	return rc.client.Exists(ctx, stream)
}

func (rc *ResilientClient) Scan(ctx context.Context, cursor uint64, pattern string) (uint64, []string, error) {
	return rc.client.Scan(ctx, cursor, pattern)
}

func (rc *ResilientClient) ReadGroup(ctx context.Context, stream, group, consumer, cursor string, count, blockMS int64) ([]Entry, error) {
	return rc.client.ReadGroup(ctx, stream, group, consumer, cursor, count, blockMS)
}

func (rc *ResilientClient) Read(ctx context.Context, stream, fromID string, count, blockMS int64) ([]Entry, error) {
	return rc.client.Read(ctx, stream, fromID, count, blockMS)
}

func (rc *ResilientClient) Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error) {
	return rc.client.Range(ctx, stream, from, to, count)
}

func (rc *ResilientClient) Ack(ctx context.Context, stream, group, id string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.client.Ack(ctx, stream, group, id)
	})
}

func (rc *ResilientClient) SetAdd(ctx context.Context, set, member string) (bool, error) {
	var added bool
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		added, err = rc.client.SetAdd(ctx, set, member)
		return err
	})
	return added, err
}

func (rc *ResilientClient) SetRem(ctx context.Context, set, member string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.client.SetRem(ctx, set, member)
	})
}

func (rc *ResilientClient) SetHas(ctx context.Context, set, member string) (bool, error) {
	return rc.client.SetHas(ctx, set, member)
}

func (rc *ResilientClient) MapSet(ctx context.Context, key string, fields map[string]string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.client.MapSet(ctx, key, fields)
	})
}

func (rc *ResilientClient) MapDel(ctx context.Context, key string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.client.MapDel(ctx, key)
	})
}

func (rc *ResilientClient) Close() error {
	return rc.client.Close()
}

func (rc *ResilientClient) Healthy(ctx context.Context) bool {
	return rc.client.Healthy(ctx)
}
