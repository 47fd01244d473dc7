package limiter

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepThreshold is the table size above which expired entries
// get swept out on the next insert.
const DefaultSweepThreshold = 1000

type record struct {
	count       int
	windowStart time.Time
}

// MemoryStore is the in-process counter table. Entries are created on
// first hit and reset in place when their window has expired, so the
// table only grows with the number of distinct keys. Once it exceeds
// the sweep threshold, expired entries are dropped on insert.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*record
	threshold int
	now       func() time.Time
}

func NewMemoryStore(sweepThreshold int) *MemoryStore {
	if sweepThreshold < 1 {
		sweepThreshold = DefaultSweepThreshold
	}
	return &MemoryStore{
		records:   make(map[string]*record),
		threshold: sweepThreshold,
		now:       time.Now,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	r, ok := s.records[key]
	if !ok || now.Sub(r.windowStart) > window {
		s.records[key] = &record{count: 1, windowStart: now}
		if len(s.records) > s.threshold {
			s.sweep(now, window)
		}
		return 1, nil
	}

	r.count++
	return r.count, nil
}

// sweep drops every record whose window has already expired. Callers
// must hold the mutex.
func (s *MemoryStore) sweep(now time.Time, window time.Duration) {
	for k, r := range s.records {
		if now.Sub(r.windowStart) > window {
			delete(s.records, k)
		}
	}
}

// Len reports the current number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
