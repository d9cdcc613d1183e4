package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_IncrWindowExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	count, ttl, err := s.IncrWindow(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || ttl != time.Minute {
		t.Errorf("count=%d ttl=%v, want 1 and 1m", count, ttl)
	}

	count, _, _ = s.IncrWindow(ctx, "k", time.Minute)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// Advance past the window; the counter resets.
	now = now.Add(2 * time.Minute)
	count, _, _ = s.IncrWindow(ctx, "k", time.Minute)
	if count != 1 {
		t.Errorf("count after expiry = %d, want 1", count)
	}
}

func TestMemoryStore_GetSetTTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if err := s.Set(ctx, "fp:1.2.3.4", "abc123", time.Hour); err != nil {
		t.Fatal(err)
	}

	val, ok, _ := s.Get(ctx, "fp:1.2.3.4")
	if !ok || val != "abc123" {
		t.Errorf("Get = %q, %v; want abc123, true", val, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := s.Get(ctx, "fp:1.2.3.4"); ok {
		t.Error("key should have expired")
	}
}

func TestMemoryStore_RangeBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.PushCapped(ctx, "list", v, 10); err != nil {
			t.Fatal(err)
		}
	}

	vals, _ := s.Range(ctx, "list", 0, -1)
	if len(vals) != 3 || vals[0] != "c" {
		t.Errorf("Range = %v, want [c b a]", vals)
	}

	if vals, _ := s.Range(ctx, "missing", 0, -1); vals != nil {
		t.Errorf("Range on missing key = %v, want nil", vals)
	}

	if err := s.Trim(ctx, "list", 1); err != nil {
		t.Fatal(err)
	}
	if vals, _ := s.Range(ctx, "list", 0, -1); len(vals) != 1 || vals[0] != "c" {
		t.Errorf("after Trim, Range = %v, want [c]", vals)
	}
}
