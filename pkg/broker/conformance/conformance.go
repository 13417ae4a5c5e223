// Package conformance holds a shared test harness that exercises the
// broker.Client contract against any concrete adapter.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/stretchr/testify/require"
)

// RunBrokerConformance runs the full suite of broker.Client contract checks
// against client. Call it from each adapter's own _test.go.
func RunBrokerConformance(t *testing.T, client broker.Client) {
	t.Run("EnsureGroupIsIdempotent", func(t *testing.T) { testEnsureGroupIdempotent(t, client) })
	t.Run("AppendAndRange", func(t *testing.T) { testAppendAndRange(t, client) })
	t.Run("RangeHonoursBounds", func(t *testing.T) { testRangeHonoursBounds(t, client) })
	t.Run("ReadGroupDeliversOnce", func(t *testing.T) { testReadGroupDeliversOnce(t, client) })
	t.Run("UnackedEntryIsRedelivered", func(t *testing.T) { testUnackedRedelivered(t, client) })
	t.Run("ScanFindsAppendedStream", func(t *testing.T) { testScanFindsStream(t, client) })
	t.Run("SetAndMapOps", func(t *testing.T) { testSetAndMapOps(t, client) })
}

func uniqueName(prefix string) string {
	return prefix + "-" + time.Now().Format("150405.000000000")
}

func testEnsureGroupIdempotent(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:ensure-group")
	group := "g1"

	require.NoError(t, client.EnsureGroup(ctx, stream, group))
	require.NoError(t, client.EnsureGroup(ctx, stream, group))
	require.NoError(t, client.EnsureGroup(ctx, stream, group))
}

func testAppendAndRange(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:append-range")

	id, err := client.Append(ctx, stream, map[string]string{"data": "hello"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := client.Range(ctx, stream, "-", "+", 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].Fields["data"])
}

func testRangeHonoursBounds(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:range-bounds")

	var ids []string
	for _, v := range []string{"a", "b", "c"} {
		id, err := client.Append(ctx, stream, map[string]string{"data": v}, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	fromSecond, err := client.Range(ctx, stream, ids[1], "+", 100)
	require.NoError(t, err)
	require.Len(t, fromSecond, 2)
	require.Equal(t, "b", fromSecond[0].Fields["data"])
	require.Equal(t, "c", fromSecond[1].Fields["data"])

	upToSecond, err := client.Range(ctx, stream, "-", ids[1], 100)
	require.NoError(t, err)
	require.Len(t, upToSecond, 2)
	require.Equal(t, "a", upToSecond[0].Fields["data"])
	require.Equal(t, "b", upToSecond[1].Fields["data"])

	capped, err := client.Range(ctx, stream, "-", "+", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, "a", capped[0].Fields["data"])
}

func testReadGroupDeliversOnce(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:read-group")
	group := "g1"

	require.NoError(t, client.EnsureGroup(ctx, stream, group))
	_, err := client.Append(ctx, stream, map[string]string{"data": "m1"}, 0)
	require.NoError(t, err)

	entries, err := client.ReadGroup(ctx, stream, group, "c1", ">", 10, 500)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "m1", entries[0].Fields["data"])

	require.NoError(t, client.Ack(ctx, stream, group, entries[0].ID))

	more, err := client.ReadGroup(ctx, stream, group, "c1", ">", 10, 50)
	require.NoError(t, err)
	require.Empty(t, more)
}

func testUnackedRedelivered(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:redelivery")
	group := "g1"

	require.NoError(t, client.EnsureGroup(ctx, stream, group))
	_, err := client.Append(ctx, stream, map[string]string{"data": "m1"}, 0)
	require.NoError(t, err)

	entries, err := client.ReadGroup(ctx, stream, group, "c1", ">", 10, 500)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	pending, err := client.ReadGroup(ctx, stream, group, "c1", "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, entries[0].ID, pending[0].ID)

	require.NoError(t, client.Ack(ctx, stream, group, entries[0].ID))

	afterAck, err := client.ReadGroup(ctx, stream, group, "c1", "0", 10, 0)
	require.NoError(t, err)
	require.Empty(t, afterAck)
}

func testScanFindsStream(t *testing.T, client broker.Client) {
	ctx := context.Background()
	stream := uniqueName("conformance:scan:target")

	_, err := client.Append(ctx, stream, map[string]string{"data": "x"}, 0)
	require.NoError(t, err)

	var found bool
	cursor := uint64(0)
	for i := 0; i < 50; i++ {
		next, names, err := client.Scan(ctx, cursor, "conformance:scan:*")
		require.NoError(t, err)
		for _, n := range names {
			if n == stream {
				found = true
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	require.True(t, found, "expected scan to surface %s", stream)
}

func testSetAndMapOps(t *testing.T, client broker.Client) {
	ctx := context.Background()
	set := uniqueName("conformance:set")
	member := "agent-1"

	added, err := client.SetAdd(ctx, set, member)
	require.NoError(t, err)
	require.True(t, added)

	addedAgain, err := client.SetAdd(ctx, set, member)
	require.NoError(t, err)
	require.False(t, addedAgain)

	has, err := client.SetHas(ctx, set, member)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, client.SetRem(ctx, set, member))
	has, err = client.SetHas(ctx, set, member)
	require.NoError(t, err)
	require.False(t, has)

	mapKey := uniqueName("conformance:map")
	require.NoError(t, client.MapSet(ctx, mapKey, map[string]string{"registered_at": "now"}))
	require.NoError(t, client.MapDel(ctx, mapKey))
}
