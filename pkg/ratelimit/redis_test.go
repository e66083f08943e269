package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/quill/pkg/clock"
)

func newRedisBucket(t *testing.T, policy SendPolicy, now *time.Time) *RedisBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.Clock(func() time.Time { return *now })
	return NewRedisBucket(client, policy, "test:otp", clk)
}

func TestRedisBucketExhaustAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b := newRedisBucket(t, SendPolicy{PerMinute: 60, Burst: 2}, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := b.Allow(ctx, "maria@example.com")
		if err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("send %d should pass within burst", i+1)
		}
	}

	allowed, err := b.Allow(ctx, "maria@example.com")
	if err != nil {
		t.Fatalf("throttled send: %v", err)
	}
	if allowed {
		t.Error("bucket should be empty after the burst")
	}

	allowed, err = b.Allow(ctx, "+5511987654321")
	if err != nil {
		t.Fatalf("other recipient: %v", err)
	}
	if !allowed {
		t.Error("recipients must not share buckets")
	}

	// 60/min refills one token per second; no sleeping, the bucket sees
	// only the injected clock.
	now = now.Add(1100 * time.Millisecond)
	allowed, err = b.Allow(ctx, "maria@example.com")
	if err != nil {
		t.Fatalf("post-refill send: %v", err)
	}
	if !allowed {
		t.Error("bucket should hold a token again after refill")
	}
}

func TestRedisBucketDefaultsRate(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b := newRedisBucket(t, SendPolicy{PerMinute: 0, Burst: 1}, &now)
	ctx := context.Background()

	allowed, err := b.Allow(ctx, "maria@example.com")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if !allowed {
		t.Error("zero-valued policy should still admit the first send")
	}

	allowed, _ = b.Allow(ctx, "maria@example.com")
	if allowed {
		t.Error("fallback rate is one per minute, second send must block")
	}
}
