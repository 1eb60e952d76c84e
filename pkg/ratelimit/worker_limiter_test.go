package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDebouncerLocalFallback(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	d := NewDebouncer(nil, time.Hour)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if d.IsDuplicate(ctx, "kim@example.com:winback_v1:2025-03-10") {
		t.Fatal("unmarked key reported as duplicate")
	}
	d.Mark(ctx, "kim@example.com:winback_v1:2025-03-10")
	if !d.IsDuplicate(ctx, "kim@example.com:winback_v1:2025-03-10") {
		t.Error("marked key not reported as duplicate")
	}

	now = now.Add(2 * time.Hour)
	if d.IsDuplicate(ctx, "kim@example.com:winback_v1:2025-03-10") {
		t.Error("key still duplicate after the window")
	}

	d.Mark(ctx, "other")
	if len(d.local) != 1 {
		t.Errorf("expected stale keys to be pruned, got %d entries", len(d.local))
	}
}

func TestSlidingWindowLimiterWithoutRedis(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 1, 0)
	for i := 0; i < 3; i++ {
		if ok, wait := l.Allow(context.Background(), "email:send"); !ok || wait != 0 {
			t.Fatalf("call %d: expected allow without redis, got %v %v", i, ok, wait)
		}
	}
}
