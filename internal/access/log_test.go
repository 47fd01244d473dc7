package access

import (
	"fmt"
	"testing"
	"time"
)

func TestLogRecentOrder(t *testing.T) {

	l := NewLog(4, nil)

	for i := 1; i <= 3; i++ {
		l.Append(Record{Email: fmt.Sprintf("u%d@example.com", i), At: time.Now()})
	}

	recent := l.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].Email != "u3@example.com" || recent[2].Email != "u1@example.com" {
		t.Errorf("expected newest first, got %v", recent)
	}
}

func TestLogWrapsAround(t *testing.T) {

	l := NewLog(4, nil)

	for i := 1; i <= 6; i++ {
		l.Append(Record{Email: fmt.Sprintf("u%d@example.com", i)})
	}

	recent := l.Recent()
	if len(recent) != 4 {
		t.Fatalf("expected ring to cap at 4 records, got %d", len(recent))
	}
	if recent[0].Email != "u6@example.com" || recent[3].Email != "u3@example.com" {
		t.Errorf("unexpected ring contents %v", recent)
	}
}

func TestCacheExpiry(t *testing.T) {

	c := NewCache(time.Hour)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("Anna@Example.com")

	if !c.Get("anna@example.com") {
		t.Error("expected cached grant, case-insensitive")
	}

	now = now.Add(2 * time.Hour)
	if c.Get("anna@example.com") {
		t.Error("expired entry must not count")
	}
	if c.Len() != 0 {
		t.Error("expired entry must be dropped on access")
	}
}
