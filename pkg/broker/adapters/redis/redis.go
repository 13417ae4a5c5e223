// Package redis provides a Redis Streams realisation of broker.Client.
//
// XADD/XREADGROUP/XACK/XGROUP CREATE MKSTREAM/SCAN/XRANGE/XREAD realize
// append, read-group, ack, ensure-group, scan, and range.
//
// # Usage
//
//	cfg := redis.Config{Addr: "localhost:6379"}
//	client, err := redis.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Dependencies
//
// This package requires: github.com/redis/go-redis/v9
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/aetherbus/aetherbus/pkg/broker"
	"github.com/aetherbus/aetherbus/pkg/concurrency"
	goredis "github.com/redis/go-redis/v9"
)

// Config holds configuration for the Redis broker client.
type Config struct {
	Addr     string `env:"BROKER_HOST" env-default:"localhost:6379"`
	Password string `env:"BROKER_PASSWORD"`
	DB       int    `env:"BROKER_DB" env-default:"0"`
	Username string `env:"BROKER_USERNAME"`

	// TLSEnabled toggles TLS on the connection.
	TLSEnabled bool `env:"BROKER_TLS_ENABLED" env-default:"false"`
}

// Client is a Redis Streams broker.Client implementation.
type Client struct {
	config Config
	rdb    *goredis.Client
	mu     *concurrency.SmartRWMutex
	closed bool
}

var _ broker.Client = (*Client)(nil)

// New creates a Redis Streams broker client, verifying connectivity.
func New(cfg Config) (*Client, error) {
	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		Username: cfg.Username,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, broker.ErrConnectionFailed(err)
	}

	return &Client{
		config: cfg,
		rdb:    rdb,
		mu:     concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "RedisBroker"}),
	}, nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return broker.ErrClosed(nil)
	}
	return nil
}

// EnsureGroup idempotently creates stream with group.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return broker.ErrConnectionFailed(err)
	}
	return nil
}

// Append adds one entry carrying fields to stream, approximately trimming
// the stream to capEntries.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]string, capEntries int64) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	args := &goredis.XAddArgs{Stream: stream, Values: values}
	if capEntries > 0 {
		args.MaxLen = capEntries
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", broker.ErrAppendFailed(err)
	}
	return id, nil
}

// Exists reports whether stream has ever been created.
func (c *Client) Exists(ctx context.Context, stream string) (bool, error) {
	n, err := c.rdb.Exists(ctx, stream).Result()
	if err != nil {
		return false, broker.ErrReadFailed(err)
	}
	return n > 0, nil
}

// Scan iterates stream keys matching pattern using the non-blocking SCAN cursor.
func (c *Client) Scan(ctx context.Context, cursor uint64, pattern string) (uint64, []string, error) {
	keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 0).Result()
	if err != nil {
		return 0, nil, broker.ErrReadFailed(err)
	}
	return next, keys, nil
}

// ReadGroup returns entries for (stream, group, consumer). cursor "0" fetches
// this consumer's own pending (un-acked) entries for redelivery; any other
// cursor (conventionally ">") fetches never-before-delivered entries,
// blocking up to blockMS.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer, cursor string, count, blockMS int64) ([]broker.Entry, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	// go-redis sends BLOCK whenever Block >= 0, and BLOCK 0 means "forever";
	// -1 omits the option entirely. Pending reads ("0") never block.
	readCursor := ">"
	block := time.Duration(-1)
	if cursor == "0" {
		readCursor = "0"
	} else if blockMS > 0 {
		block = time.Duration(blockMS) * time.Millisecond
	}

	res, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, readCursor},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, broker.ErrReadFailed(err)
	}

	return flattenStreams(res), nil
}

// Read performs groupless tailing from fromID (e.g. "$" for new-only).
func (c *Client) Read(ctx context.Context, stream, fromID string, count, blockMS int64) ([]broker.Entry, error) {
	block := time.Duration(-1)
	if blockMS > 0 {
		block = time.Duration(blockMS) * time.Millisecond
	}
	res, err := c.rdb.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{stream, fromID},
		Count:   count,
		Block:   block,
	}).Result()

	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, broker.ErrReadFailed(err)
	}

	return flattenStreams(res), nil
}

// Range returns entries between from and to using XRANGEN.
func (c *Client) Range(ctx context.Context, stream, from, to string, count int64) ([]broker.Entry, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, from, to, count).Result()
	if err != nil {
		return nil, broker.ErrReadFailed(err)
	}
	return convertMessages(msgs), nil
}

// Ack acknowledges id in (stream, group).
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return broker.ErrAckFailed(err)
	}
	return nil
}

// SetAdd adds member to set, reporting whether it was newly added.
func (c *Client) SetAdd(ctx context.Context, set, member string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, set, member).Result()
	if err != nil {
		return false, broker.ErrAppendFailed(err)
	}
	return n > 0, nil
}

// SetRem removes member from set.
func (c *Client) SetRem(ctx context.Context, set, member string) error {
	return c.rdb.SRem(ctx, set, member).Err()
}

// SetHas reports whether member is present in set.
func (c *Client) SetHas(ctx context.Context, set, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, set, member).Result()
}

// MapSet writes fields into the hash at key.
func (c *Client) MapSet(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return c.rdb.HSet(ctx, key, values).Err()
}

// MapDel deletes the hash at key.
func (c *Client) MapDel(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close shuts down the Redis connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rdb.Close()
}

// Healthy checks if the Redis connection is healthy.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

func flattenStreams(streams []goredis.XStream) []broker.Entry {
	var out []broker.Entry
	for _, s := range streams {
		out = append(out, convertMessages(s.Messages)...)
	}
	return out
}

func convertMessages(msgs []goredis.XMessage) []broker.Entry {
	out := make([]broker.Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = fmt.Sprintf("%v", v)
		}
		out = append(out, broker.Entry{ID: m.ID, Fields: fields})
	}
	return out
}
