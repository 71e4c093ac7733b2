// README: Redis-backed attempt limiter; optional lockout policy around code verification.
package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ridepool/internal/types"
)

const attemptKeyPrefix = "ridepool:otp:attempts:%s:%s"

// AttemptLimiter tracks failed verifications per (booking, phase). A nil
// limiter on the Service disables lockout entirely.
type AttemptLimiter interface {
	Locked(ctx context.Context, bookingID types.ID, phase Phase) (bool, error)
	Fail(ctx context.Context, bookingID types.ID, phase Phase) error
	Clear(ctx context.Context, bookingID types.ID, phase Phase) error
}

// RedisLimiter counts failures in Redis with a rolling lock window.
type RedisLimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewRedisLimiter(rdb *redis.Client, maxAttempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{redis: rdb, maxAttempts: maxAttempts, window: window}
}

func attemptKey(bookingID types.ID, phase Phase) string {
	return fmt.Sprintf(attemptKeyPrefix, bookingID, phase)
}

func (l *RedisLimiter) Locked(ctx context.Context, bookingID types.ID, phase Phase) (bool, error) {
	n, err := l.redis.Get(ctx, attemptKey(bookingID, phase)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.maxAttempts, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, bookingID types.ID, phase Phase) error {
	key := attemptKey(bookingID, phase)
	pipe := l.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *RedisLimiter) Clear(ctx context.Context, bookingID types.ID, phase Phase) error {
	return l.redis.Del(ctx, attemptKey(bookingID, phase)).Err()
}
