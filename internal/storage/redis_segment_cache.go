package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/correlator-io/sdbridge/internal/detection"
)

const (
	segmentKeyPrefix  = "sdbridge:segment:"
	defaultSegmentTTL = 24 * time.Hour
)

var (
	// ErrSegmentCacheFailed is returned when the Redis segment index cannot be read or written.
	ErrSegmentCacheFailed = errors.New("segment cache operation failed")
)

type (
	// RedisSegmentCache keeps the channel segment -> wfid index in Redis sets so that it
	// is shared between processes. Each segment key expires ttl after its last write.
	RedisSegmentCache struct {
		client *redis.Client
		ttl    time.Duration
	}

	// RedisSegmentCacheOption configures a RedisSegmentCache.
	RedisSegmentCacheOption func(*RedisSegmentCache)
)

// WithSegmentTTL sets the expiry of segment keys. Zero disables expiry.
func WithSegmentTTL(ttl time.Duration) RedisSegmentCacheOption {
	return func(c *RedisSegmentCache) {
		c.ttl = ttl
	}
}

// NewRedisSegmentCache creates a segment cache on client. The client is owned by the caller.
func NewRedisSegmentCache(client *redis.Client, opts ...RedisSegmentCacheOption) *RedisSegmentCache {
	c := &RedisSegmentCache{client: client, ttl: defaultSegmentTTL}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Add records wfid for the segment.
func (c *RedisSegmentCache) Add(ctx context.Context, segment detection.SegmentDescriptor, wfid int64) error {
	key := segmentKeyPrefix + segment.String()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, wfid)

		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrSegmentCacheFailed, key, err)
	}

	return nil
}

// Lookup returns the wfids recorded for the segment in ascending order.
func (c *RedisSegmentCache) Lookup(ctx context.Context, segment detection.SegmentDescriptor) ([]int64, error) {
	key := segmentKeyPrefix + segment.String()

	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", ErrSegmentCacheFailed, key, err)
	}

	wfids := make([]int64, 0, len(members))

	for _, m := range members {
		wfid, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s holds non-numeric member %q", ErrSegmentCacheFailed, key, m)
		}

		wfids = append(wfids, wfid)
	}

	slices.Sort(wfids)

	return wfids, nil
}

// HealthCheck pings Redis.
func (c *RedisSegmentCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSegmentCacheFailed, err)
	}

	return nil
}
