// Package cache holds the at-most-once set of candidate mints the
// acquisition pipeline has already looked at.
package cache

import (
	"context"
	"sync"
	"time"
)

type SeenSet interface {
	// MarkSeen records mint and reports whether this is the first sighting
	// within the TTL window.
	MarkSeen(ctx context.Context, mint string) (bool, error)
}

type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (m *Memory) MarkSeen(_ context.Context, mint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.seen[mint]; ok && (m.ttl <= 0 || now.Before(expires)) {
		return false, nil
	}
	m.seen[mint] = now.Add(m.ttl)
	m.evict(now)
	return true, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) evict(now time.Time) {
	if m.ttl <= 0 || len(m.seen) < 1024 {
		return
	}
	for mint, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, mint)
		}
	}
}
