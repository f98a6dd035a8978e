package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cyberfolio:ratelimit:"

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisLimiter keeps one counter per key whose TTL is the window; the first hit arms the expiry.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, maxAttempts int) (Decision, error) {
	redisKey := redisKeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, window)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate limit counter: %w", err)
	}

	return redisDecision(int(incr.Val()), ttl.Val(), window, maxAttempts, l.now()), nil
}

func redisDecision(hits int, ttl, window time.Duration, maxAttempts int, now time.Time) Decision {
	if ttl <= 0 || ttl > window {
		ttl = window
	}
	windowStartedAt := now.Add(ttl - window)
	return decide(hits, windowStartedAt, window, maxAttempts, now)
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
