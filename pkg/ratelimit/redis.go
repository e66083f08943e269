package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/quill/pkg/clock"
)

// bucketScript refills and consumes atomically server-side so concurrent
// nodes share one bucket per recipient.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, fractional)
// ARGV[5] = state ttl (seconds)
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(tokens)}
`)

// RedisBucket is the distributed Bucket. The state TTL covers a full refill
// horizon, so an expired hash is equivalent to a full bucket.
type RedisBucket struct {
	client *redis.Client
	policy SendPolicy
	prefix string
	now    clock.Clock
}

func NewRedisBucket(client *redis.Client, policy SendPolicy, prefix string, clk clock.Clock) *RedisBucket {
	if prefix == "" {
		prefix = "quill:otp"
	}
	if clk == nil {
		clk = clock.System
	}
	return &RedisBucket{client: client, policy: policy, prefix: prefix, now: clk}
}

func (b *RedisBucket) Allow(ctx context.Context, key string) (bool, error) {
	ratePerSec := float64(b.policy.PerMinute) / 60.0
	if ratePerSec <= 0 {
		ratePerSec = 1.0 / 60.0
	}
	ttl := int(float64(b.policy.Burst)/ratePerSec) + 60
	now := float64(b.now().UnixMicro()) / 1e6

	res, err := bucketScript.Run(ctx, b.client,
		[]string{b.prefix + ":" + key},
		ratePerSec, b.policy.Burst, 1, now, ttl,
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis bucket: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis bucket: unexpected script reply %T", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
