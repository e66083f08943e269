// Package ratelimit holds the service's two throttles: a per-IP limiter in
// front of the public routes and a token bucket keyed by recipient that
// caps one-time code sends. The bucket has an in-process form and a Redis
// form for multi-node deployments.
package ratelimit

import (
	"context"
	"net"
	"strings"
)

// Bucket is a keyed rate-limit decision point.
type Bucket interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SendPolicy caps sends per key. PerMinute is the sustained rate, Burst the
// bucket capacity.
type SendPolicy struct {
	PerMinute int
	Burst     int
}

// ClientIP strips the port and IPv6 brackets from a request RemoteAddr.
func ClientIP(addr string) string {
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		ip = strings.TrimPrefix(addr, "[")
		ip = strings.TrimSuffix(ip, "]")
	}
	return ip
}
