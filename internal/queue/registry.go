package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultWorkerTTL = 90 * time.Second

// Registry tracks which crawl workers serve each channel. Workers heartbeat
// into a sorted set scored by time; a worker counts as registered while its
// last heartbeat is within the TTL.
type Registry struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry. ttl of zero selects the default.
func NewRegistry(client *Client, ttl time.Duration, opts ...RegistryOption) *Registry {
	if ttl <= 0 {
		ttl = defaultWorkerTTL
	}
	r := &Registry{client: client, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Heartbeat registers workerID on channel, or refreshes its registration.
func (r *Registry) Heartbeat(ctx context.Context, channel, workerID string) error {
	err := r.client.rdb.ZAdd(ctx, r.client.WorkersKey(channel), redis.Z{
		Score:  float64(r.now().UnixMilli()),
		Member: workerID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to register worker %s on %s: %w", workerID, channel, err)
	}
	return nil
}

// Deregister removes workerID from channel.
func (r *Registry) Deregister(ctx context.Context, channel, workerID string) error {
	if err := r.client.rdb.ZRem(ctx, r.client.WorkersKey(channel), workerID).Err(); err != nil {
		return fmt.Errorf("failed to deregister worker %s from %s: %w", workerID, channel, err)
	}
	return nil
}

// WorkersRegistered counts workers whose heartbeat on channel is still live.
func (r *Registry) WorkersRegistered(ctx context.Context, channel string) (int, error) {
	n, err := r.client.rdb.ZCount(ctx, r.client.WorkersKey(channel), r.cutoff(), "+inf").Result()
	if err != nil && !isNil(err) {
		return 0, fmt.Errorf("failed to count workers on %s: %w", channel, err)
	}
	return int(n), nil
}

// Prune drops expired heartbeats from channel and returns how many it removed.
func (r *Registry) Prune(ctx context.Context, channel string) (int64, error) {
	n, err := r.client.rdb.ZRemRangeByScore(ctx, r.client.WorkersKey(channel), "-inf", "("+r.cutoff()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune workers on %s: %w", channel, err)
	}
	return n, nil
}

func (r *Registry) cutoff() string {
	return strconv.FormatInt(r.now().Add(-r.ttl).UnixMilli(), 10)
}
