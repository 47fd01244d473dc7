package limiter

import (
	"context"
	"time"
)

// Decision is the outcome of a single rate limit check. Count includes
// the request being checked.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
}

// Store keeps the per-key hit counters for one limiter window. A hit
// either increments the counter of the active window or opens a fresh
// window when the previous one has expired.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
}

// Limiter enforces a fixed window rule of max hits per window for every
// distinct key.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

func New(store Store, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: max, window: window}
}

// Check records a hit for the key and reports whether it is still
// within the allowed budget. A denied hit is still counted, retries
// during the same window keep being denied.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {

	count, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Count: count, Allowed: count <= l.max}
	if d.Allowed {
		d.Remaining = l.max - count
	}
	return d, nil
}

func (l *Limiter) Max() int {
	return l.max
}

func (l *Limiter) Window() time.Duration {
	return l.window
}
