// Package broker defines the narrow capability surface AetherBus needs from
// a stream-shaped message broker. Any backend that can implement Client may
// host the bus; the concrete realisation lives in pkg/broker/adapters/redis,
// with pkg/broker/adapters/memory for tests.
//
// The package keeps a zero-dependency core interface here, optional
// cross-cutting decorators (InstrumentedClient, ResilientClient) alongside
// it, and one sub-package per concrete backend.
package broker

import "context"

// New layers the standard cross-cutting decorators around a concrete
// client: retry and circuit breaking innermost, tracing and logging
// outermost, so every retried attempt is recorded on the span wrapping it.
// Callers that want a bare client use the adapter constructor directly.
func New(client Client, cfg ResilientConfig) Client {
	return NewInstrumentedClient(NewResilientClient(client, cfg))
}

// Entry is a single broker-assigned record: an opaque id plus the field map
// it was appended with.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Client is the thin capability surface the bus needs. context.Context
// governs cancellation on every suspension point.
type Client interface {
	// EnsureGroup idempotently creates stream (if absent) with group. A
	// pre-existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// Append adds an entry to stream, trimming it to approximately capEntries
	// entries. A capEntries of 0 disables trimming.
	Append(ctx context.Context, stream string, fields map[string]string, capEntries int64) (id string, err error)

	// Exists reports whether stream has ever been created.
	Exists(ctx context.Context, stream string) (bool, error)

	// Scan performs one non-blocking iteration over stream names matching
	// pattern, returning the next cursor (0 means iteration is complete) and
	// any matching names found in this iteration.
	Scan(ctx context.Context, cursor uint64, pattern string) (nextCursor uint64, names []string, err error)

	// ReadGroup returns entries for (stream, group, consumer). cursor ">"
	// requests never-before-delivered entries for the group, blocking up to
	// blockMS milliseconds before returning empty. cursor "0" requests this
	// consumer's own still-pending (undelivered-ack) entries without
	// blocking and without handing out new ones — the redelivery path a
	// ConsumerGroupSubscriber uses to retry an un-acked entry.
	ReadGroup(ctx context.Context, stream, group, consumer, cursor string, count, blockMS int64) ([]Entry, error)

	// Read performs groupless tailing of stream starting after fromID (use
	// "$" for "only new entries from now"), blocking up to blockMS
	// milliseconds before returning empty.
	Read(ctx context.Context, stream, fromID string, count int64, blockMS int64) ([]Entry, error)

	// Range returns entries between from and to (inclusive, broker-native
	// range syntax, e.g. "-"/"+" for open bounds), capped at count.
	Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error)

	// Ack acknowledges id in (stream, group), removing it from the pending
	// entries list.
	Ack(ctx context.Context, stream, group, id string) error

	// SetAdd adds member to set, returning whether it was newly added.
	SetAdd(ctx context.Context, set, member string) (added bool, err error)

	// SetRem removes member from set.
	SetRem(ctx context.Context, set, member string) error

	// SetHas reports whether member is present in set.
	SetHas(ctx context.Context, set, member string) (bool, error)

	// MapSet writes fields into the hash at key.
	MapSet(ctx context.Context, key string, fields map[string]string) error

	// MapDel deletes the hash at key.
	MapDel(ctx context.Context, key string) error

	// Close releases the client's resources.
	Close() error

	// Healthy reports whether the underlying connection is usable.
	Healthy(ctx context.Context) bool
}
