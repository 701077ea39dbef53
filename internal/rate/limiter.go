package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a fixed-window budget: at most Limit hits per Period.
// A zero Limit disables the window.
type Window struct {
	Limit  int
	Period time.Duration
}

func (w Window) Enabled() bool {
	return w.Limit > 0 && w.Period > 0
}

// Limiter counts hits in Redis with INCR and sets the window TTL on the
// first hit.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Limiter] backed by the given Redis client. Every key it
// touches is namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "avr"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Hit records one hit against key. When the window is exhausted it returns
// ErrRateLimited and the time until the window resets.
func (l *Limiter) Hit(ctx context.Context, key string, w Window) (time.Duration, error) {
	if l == nil || !w.Enabled() {
		return 0, nil
	}

	fullKey := l.prefix + ":" + key
	count, err := l.incrementWithTTL(ctx, fullKey, w.Period)
	if err != nil {
		return 0, err
	}
	if count <= int64(w.Limit) {
		return 0, nil
	}

	retryAfter, err := l.redis.PTTL(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if retryAfter <= 0 {
		retryAfter = w.Period
	}
	return retryAfter, ErrRateLimited
}

// Peek reports whether key is already over budget without counting a hit.
func (l *Limiter) Peek(ctx context.Context, key string, w Window) error {
	if l == nil || !w.Enabled() {
		return nil
	}

	count, err := l.redis.Get(ctx, l.prefix+":"+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(w.Limit) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counters for keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if l == nil || len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, l.prefix+":"+k)
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
