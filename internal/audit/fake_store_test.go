package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	entries   []Entry
	attempts  []FailedLoginAttempt
	appendErr error
	writeErr  error
}

func (s *memoryStore) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = ctx.Err()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryStore) AppendFailedLogin(ctx context.Context, attempt FailedLoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *memoryStore) Query(_ context.Context, filter Filter, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if filter.ActorID != "" && (e.ActorID == nil || *e.ActorID != filter.ActorID) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) RecentFailedLogins(_ context.Context, since time.Time, limit int) ([]FailedLoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailedLoginAttempt, 0)
	for _, a := range s.attempts {
		if !a.AttemptedAt.Before(since) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) CountFailedLoginsSince(_ context.Context, identifier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.attempts {
		if strings.EqualFold(a.Identifier, identifier) && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
