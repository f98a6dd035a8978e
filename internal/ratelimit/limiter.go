package ratelimit

import (
	"context"
	"math"
	"time"
)

// Decision is the outcome of one counted attempt against a fixed window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts an attempt for key and decides whether it fits in the current window.
// The (maxAttempts+1)th call inside one window is rejected; a fresh window starts once window has elapsed.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, maxAttempts int) (Decision, error)
}

type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Unlimited admits every attempt. Only wired when bypass is enabled outside production.
type Unlimited struct{}

func (Unlimited) Allow(_ context.Context, _ string, _ time.Duration, maxAttempts int) (Decision, error) {
	return Decision{Allowed: true, Remaining: maxAttempts}, nil
}

// RetryAfterSeconds rounds up to whole seconds with a floor of one.
func RetryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func decide(hits int, windowStartedAt time.Time, window time.Duration, maxAttempts int, now time.Time) Decision {
	if hits <= maxAttempts {
		return Decision{Allowed: true, Remaining: maxAttempts - hits}
	}

	retryAfter := windowStartedAt.Add(window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
}
