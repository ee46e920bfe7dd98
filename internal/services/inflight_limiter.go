package services

import (
	"sync"
	"time"
)

type inflightEntry struct {
	startedAt time.Time
}

// InflightLimiter admits at most one live frame per user at a time.
type InflightLimiter struct {
	sessions sync.Map
}

func NewInflightLimiter() *InflightLimiter {
	return &InflightLimiter{}
}

// TryAcquire returns ok=false while an earlier frame from the same user is still held.
// The returned release is idempotent.
func (l *InflightLimiter) TryAcquire(userID string) (func(), bool) {
	if _, loaded := l.sessions.LoadOrStore(userID, inflightEntry{startedAt: time.Now()}); loaded {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.sessions.Delete(userID) })
	}, true
}

// InFlight reports how long the user's current frame has been running.
func (l *InflightLimiter) InFlight(userID string) (time.Duration, bool) {
	value, ok := l.sessions.Load(userID)
	if !ok {
		return 0, false
	}
	return time.Since(value.(inflightEntry).startedAt), true
}
