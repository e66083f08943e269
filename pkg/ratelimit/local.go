package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalBucket is the single-node Bucket. State lives in process memory, so
// restarts reset it; acceptable for the OTP send throttle it guards.
type LocalBucket struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	policy   SendPolicy
}

func NewLocalBucket(policy SendPolicy) *LocalBucket {
	return &LocalBucket{
		limiters: make(map[string]*visitor),
		policy:   policy,
	}
}

func (b *LocalBucket) Allow(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	v, ok := b.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(perSecond(b.policy), b.policy.Burst)}
		b.limiters[key] = v
	}
	v.lastSeen = time.Now()
	b.mu.Unlock()

	return v.limiter.Allow(), nil
}

func perSecond(p SendPolicy) rate.Limit {
	r := rate.Limit(p.PerMinute) / 60
	if r <= 0 {
		r = rate.Limit(1.0 / 60.0)
	}
	return r
}
