// Package queue carries jobs to crawl workers over Redis: one stream per
// harvest channel, a heartbeat registry of workers per channel, and a signal
// stream the crawl engine reports job progress on.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
)

const (
	defaultConnectionTimeout = 2 * time.Second
	defaultPrefix            = "harvest"
)

// Client wraps a Redis client with the key layout shared by every component.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectionTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewClientFromRedis(rdb, cfg.Prefix), nil
}

// NewClientFromRedis wraps an existing Redis client.
func NewClientFromRedis(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// JobsStream is the stream a channel's workers consume jobs from.
func (c *Client) JobsStream(channel string) string {
	return fmt.Sprintf("%s:channel:%s:jobs", c.prefix, channel)
}

// WorkersKey is the sorted set of worker heartbeats for a channel.
func (c *Client) WorkersKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s:workers", c.prefix, channel)
}

// SignalsStream is the stream the crawl engine publishes job signals on.
func (c *Client) SignalsStream() string {
	return c.prefix + ":signals"
}

// Redis returns the underlying client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CreateConsumerGroup creates group on stream, creating the stream if needed.
// An existing group is not an error.
func (c *Client) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// isNil reports the go-redis "no data" reply.
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
