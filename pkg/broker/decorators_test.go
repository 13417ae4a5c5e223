package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/broker/adapters/memory"
	"github.com/aetherbus/aetherbus/pkg/resilience"
	"github.com/stretchr/testify/require"
)

// flakyClient fails the first failures appends, then delegates.
type flakyClient struct {
	broker.Client
	failures int
	calls    int
}

func (f *flakyClient) Append(ctx context.Context, stream string, fields map[string]string, capEntries int64) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient append failure")
	}
	return f.Client.Append(ctx, stream, fields, capEntries)
}

func TestResilientClientRetriesTransientAppendFailures(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyClient{Client: memory.New(), failures: 2}

	client := broker.NewResilientClient(flaky, broker.ResilientConfig{
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
		RetryBackoff:     time.Millisecond,
	})

	id, err := client.Append(ctx, "resilient:stream", map[string]string{"data": "x"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 3, flaky.calls)

	entries, err := client.Range(ctx, "resilient:stream", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestResilientClientCircuitOpensAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyClient{Client: memory.New(), failures: 100}

	client := broker.NewResilientClient(flaky, broker.ResilientConfig{
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Hour,
	})

	_, err := client.Append(ctx, "cb:stream", nil, 0)
	require.Error(t, err)
	_, err = client.Append(ctx, "cb:stream", nil, 0)
	require.Error(t, err)

	_, err = client.Append(ctx, "cb:stream", nil, 0)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.Equal(t, 2, flaky.calls, "an open circuit must fast-fail without touching the client")
}

// TestLayeredClientPassesThrough drives the full decorator stack end to end:
// a call entering the instrumented layer reaches the concrete client and its
// result flows back unchanged.
func TestLayeredClientPassesThrough(t *testing.T) {
	ctx := context.Background()
	client := broker.New(memory.New(), broker.ResilientConfig{
		RetryEnabled:     true,
		RetryMaxAttempts: 2,
		RetryBackoff:     time.Millisecond,
	})
	defer client.Close()

	stream, group := "layered:stream", "g1"
	require.NoError(t, client.EnsureGroup(ctx, stream, group))

	id, err := client.Append(ctx, stream, map[string]string{"data": "hello"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := client.ReadGroup(ctx, stream, group, "c1", ">", 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].Fields["data"])
	require.NoError(t, client.Ack(ctx, stream, group, entries[0].ID))

	added, err := client.SetAdd(ctx, "layered:set", "m1")
	require.NoError(t, err)
	require.True(t, added)
	has, err := client.SetHas(ctx, "layered:set", "m1")
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, client.MapSet(ctx, "layered:map", map[string]string{"k": "v"}))
	require.NoError(t, client.MapDel(ctx, "layered:map"))
	require.True(t, client.Healthy(ctx))
}
