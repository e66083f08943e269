package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorSweepEvery = time.Minute
	visitorIdleFor    = 3 * time.Minute
)

// IPLimiter hands out one limiter per remote IP and forgets idle entries.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter allows rps sustained requests per second per IP with the
// given burst. A background sweep evicts idle visitors.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	l := &IPLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether the address may proceed. addr may carry a port.
func (l *IPLimiter) Allow(addr string) bool {
	return l.visitor(ClientIP(addr)).Allow()
}

func (l *IPLimiter) visitor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (l *IPLimiter) sweepLoop() {
	for {
		time.Sleep(visitorSweepEvery)
		l.evictStale(time.Now())
	}
}

func (l *IPLimiter) evictStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdleFor {
			delete(l.visitors, ip)
		}
	}
}
