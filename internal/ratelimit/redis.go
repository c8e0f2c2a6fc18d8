package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps fixed-window counters in Redis so limits survive process
// restarts. INCR is atomic on the server, which satisfies the per-key
// linearizability requirement without any process-local locking.
//
// This is a single-node backend: no cross-region consistency is attempted.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ CounterStore = (*RedisStore)(nil)

// RedisConfig holds connection settings for the counter store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, prefix: "ratelimit:"}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// Incr bumps the counter and pins the window expiry on first increment. The
// expiry set on window start is never extended afterwards, so denials do not
// push ResetAt forward.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	full := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pttl := pipe.PTTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	count := incr.Val()
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		// Fresh window (or a counter left without expiry by a previous
		// partial failure): pin the window end now.
		if err := s.client.PExpire(ctx, full, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, now.Add(window), nil
	}
	return count, now.Add(ttl), nil
}
