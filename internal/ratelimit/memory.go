package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 5000

type windowState struct {
	startedAt time.Time
	hits      int
	window    time.Duration
}

// MemoryLimiter keeps fixed-window counters in process memory.
// Suitable for a single instance or for tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowState
	maxKeys int
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*windowState),
		maxKeys: defaultMaxKeys,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration, maxAttempts int) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || !now.Before(state.startedAt.Add(window)) {
		state = &windowState{startedAt: now, window: window}
		l.windows[key] = state
	}
	state.hits++

	if len(l.windows) > l.maxKeys {
		l.sweepLocked(now)
	}

	return decide(state.hits, state.startedAt, window, maxAttempts, now), nil
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for key, state := range l.windows {
		if !now.Before(state.startedAt.Add(state.window)) {
			delete(l.windows, key)
		}
	}
}
