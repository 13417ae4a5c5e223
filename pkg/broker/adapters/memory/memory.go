// Package memory provides an in-process broker.Client used by tests and by
// the conformance suite to validate the contract every backend must honour.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
)

type pendingEntry struct {
	entry      broker.Entry
	consumer   string
	deliveries int
}

type groupState struct {
	pending map[string]*pendingEntry // id -> pending
	nextIdx int                      // index into stream.entries of the next never-delivered entry
}

type stream struct {
	entries []broker.Entry
	groups  map[string]*groupState
	seq     int
}

// Client is an in-memory, single-process broker.Client implementation.
type Client struct {
	mu      *concurrency.SmartRWMutex
	streams map[string]*stream
	sets    map[string]map[string]struct{}
	maps    map[string]map[string]string
	closed  bool
}

// New creates an empty in-memory broker client.
func New() *Client {
	return &Client{
		mu:      concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "MemoryBroker"}),
		streams: map[string]*stream{},
		sets:    map[string]map[string]struct{}{},
		maps:    map[string]map[string]string{},
	}
}

func (c *Client) streamFor(name string) *stream {
	s, ok := c.streams[name]
	if !ok {
		s = &stream{groups: map[string]*groupState{}}
		c.streams[name] = s
	}
	return s
}

func (c *Client) nextID(s *stream) string {
	s.seq++
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), s.seq)
}

func (c *Client) EnsureGroup(ctx context.Context, streamName, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrClosed(nil)
	}
	s := c.streamFor(streamName)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &groupState{pending: map[string]*pendingEntry{}}
	}
	return nil
}

func (c *Client) Append(ctx context.Context, streamName string, fields map[string]string, capEntries int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", broker.ErrClosed(nil)
	}
	s := c.streamFor(streamName)
	id := c.nextID(s)
	s.entries = append(s.entries, broker.Entry{ID: id, Fields: fields})
	if capEntries > 0 && int64(len(s.entries)) > capEntries {
		trim := int64(len(s.entries)) - capEntries
		s.entries = s.entries[trim:]
		for _, g := range s.groups {
			g.nextIdx -= int(trim)
			if g.nextIdx < 0 {
				g.nextIdx = 0
			}
		}
	}
	return id, nil
}

func (c *Client) Exists(ctx context.Context, streamName string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.streams[streamName]
	return ok, nil
}

func (c *Client) Scan(ctx context.Context, cursor uint64, pattern string) (uint64, []string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.streams))
	for name := range c.streams {
		if matchGlob(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return 0, names, nil
}

func matchGlob(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	if err != nil {
		return strings.Contains(name, strings.Trim(pattern, "*"))
	}
	return ok
}

func (c *Client) ReadGroup(ctx context.Context, streamName, group, consumer, cursor string, count, blockMS int64) ([]broker.Entry, error) {
	deadline := time.Now().Add(time.Duration(blockMS) * time.Millisecond)
	for {
		entries := c.tryReadGroup(streamName, group, consumer, cursor, count)
		if len(entries) > 0 || cursor == "0" {
			return entries, nil
		}
		if blockMS <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Client) tryReadGroup(streamName, group, consumer, cursor string, count int64) []broker.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	s := c.streamFor(streamName)
	g, ok := s.groups[group]
	if !ok {
		g = &groupState{pending: map[string]*pendingEntry{}}
		s.groups[group] = g
	}

	if cursor == "0" {
		var out []broker.Entry
		for _, p := range g.pending {
			if p.consumer != consumer {
				continue
			}
			out = append(out, p.entry)
			if count > 0 && int64(len(out)) >= count {
				break
			}
		}
		return out
	}

	var out []broker.Entry
	for g.nextIdx < len(s.entries) {
		e := s.entries[g.nextIdx]
		g.nextIdx++
		g.pending[e.ID] = &pendingEntry{entry: e, consumer: consumer, deliveries: 1}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

func (c *Client) Read(ctx context.Context, streamName, fromID string, count, blockMS int64) ([]broker.Entry, error) {
	c.mu.Lock()
	s := c.streamFor(streamName)
	startIdx := 0
	if fromID == "$" {
		startIdx = len(s.entries)
	} else if fromID != "" && fromID != "0" {
		for i, e := range s.entries {
			if e.ID == fromID {
				startIdx = i + 1
				break
			}
		}
	}
	c.mu.Unlock()

	deadline := time.Now().Add(time.Duration(blockMS) * time.Millisecond)
	for {
		c.mu.RLock()
		var out []broker.Entry
		if s, ok := c.streams[streamName]; ok {
			for i := startIdx; i < len(s.entries); i++ {
				out = append(out, s.entries[i])
				if count > 0 && int64(len(out)) >= count {
					break
				}
			}
		}
		c.mu.RUnlock()
		if len(out) > 0 {
			return out, nil
		}
		if blockMS <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Client) Range(ctx context.Context, streamName, from, to string, count int64) ([]broker.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.streams[streamName]
	if !ok {
		return nil, nil
	}
	var out []broker.Entry
	for _, e := range s.entries {
		if from != "" && from != "-" && compareIDs(e.ID, from) < 0 {
			continue
		}
		if to != "" && to != "+" && compareIDs(e.ID, to) > 0 {
			break
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// compareIDs orders two "<ms>-<seq>" entry ids numerically, falling back to
// string comparison for ids that don't parse.
func compareIDs(a, b string) int {
	ams, aseq, aok := splitID(a)
	bms, bseq, bok := splitID(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	if ams != bms {
		if ams < bms {
			return -1
		}
		return 1
	}
	if aseq != bseq {
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

func splitID(id string) (ms, seq int64, ok bool) {
	part, rest, found := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(part, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if !found {
		return ms, 0, true
	}
	seq, err = strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return ms, seq, true
}

func (c *Client) Ack(ctx context.Context, streamName, group, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.streamFor(streamName)
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	return nil
}

func (c *Client) SetAdd(ctx context.Context, set, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sets[set]
	if !ok {
		m = map[string]struct{}{}
		c.sets[set] = m
	}
	if _, exists := m[member]; exists {
		return false, nil
	}
	m[member] = struct{}{}
	return true, nil
}

func (c *Client) SetRem(ctx context.Context, set, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.sets[set]; ok {
		delete(m, member)
	}
	return nil
}

func (c *Client) SetHas(ctx context.Context, set, member string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.sets[set]
	if !ok {
		return false, nil
	}
	_, has := m[member]
	return has, nil
}

func (c *Client) MapSet(ctx context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.maps[key]
	if !ok {
		m = map[string]string{}
		c.maps[key] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (c *Client) MapDel(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.maps, key)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}
