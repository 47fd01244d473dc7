package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCheckWindowBudget(t *testing.T) {

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(0)
	store.now = func() time.Time { return now }

	lim := New(store, 100, 10*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d, err := lim.Check(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("check %d returned error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Count != i {
			t.Fatalf("request %d reported count %d", i, d.Count)
		}
	}

	d, err := lim.Check(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("check returned error: %v", err)
	}
	if d.Allowed {
		t.Error("request 101 should be denied")
	}
	if d.Count != 101 {
		t.Errorf("denied request still counts, got %d", d.Count)
	}

	// a retry within the window stays denied
	if d, _ = lim.Check(ctx, "1.2.3.4"); d.Allowed {
		t.Error("retry within the window should be denied")
	}

	// once the window has passed, the key starts a fresh budget
	now = now.Add(10*time.Minute + time.Second)
	d, err = lim.Check(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("check returned error: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Errorf("expected fresh window with count 1, got %+v", d)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {

	store := NewMemoryStore(0)
	lim := New(store, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lim.Check(ctx, "1.2.3.4")
	}

	d, err := lim.Check(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("check returned error: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Errorf("keys must not share budgets, got %+v", d)
	}
}

func TestMemoryStoreSweep(t *testing.T) {

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(10)
	store.now = func() time.Time { return now }

	window := time.Minute
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		store.Hit(ctx, fmt.Sprintf("10.0.0.%d", i), window)
	}
	if store.Len() != 10 {
		t.Fatalf("expected 10 tracked keys, got %d", store.Len())
	}

	// all previous windows expire; the next insert crosses the
	// threshold and sweeps them out
	now = now.Add(2 * time.Minute)
	store.Hit(ctx, "10.0.1.1", window)

	if store.Len() != 1 {
		t.Errorf("expected sweep to leave 1 key, got %d", store.Len())
	}
}

func TestMemoryStoreSweepKeepsActiveWindows(t *testing.T) {

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(2)
	store.now = func() time.Time { return now }

	window := 10 * time.Minute
	ctx := context.Background()

	store.Hit(ctx, "old-1", window)
	store.Hit(ctx, "old-2", window)

	now = now.Add(5 * time.Minute)
	store.Hit(ctx, "fresh", window)

	// old windows are not expired yet, nothing to sweep
	if store.Len() != 3 {
		t.Errorf("expected unexpired keys to survive the sweep, got %d", store.Len())
	}

	if c, _ := store.Hit(ctx, "old-1", window); c != 2 {
		t.Errorf("expected old-1 to keep its counter, got %d", c)
	}
}
