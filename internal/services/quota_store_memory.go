package services

import (
	"context"
	"sync"
)

type quotaKey struct {
	userID string
	tier   string
}

type quotaCount struct {
	day   string
	count int64
}

type MemoryQuotaStore struct {
	mu       sync.Mutex
	counters map[quotaKey]quotaCount
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{counters: make(map[quotaKey]quotaCount)}
}

func (s *MemoryQuotaStore) Consume(ctx context.Context, userID, tier, day string, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey{userID: userID, tier: tier}
	current := s.counters[key]
	if current.day != day {
		current = quotaCount{day: day}
	}

	if limit != Unlimited && current.count >= limit {
		return current.count, false, nil
	}
	current.count++
	s.counters[key] = current
	return current.count, true, nil
}

func (s *MemoryQuotaStore) Peek(ctx context.Context, userID, tier, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.counters[quotaKey{userID: userID, tier: tier}]
	if current.day != day {
		return 0, nil
	}
	return current.count, nil
}
