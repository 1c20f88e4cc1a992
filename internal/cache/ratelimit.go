package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenThrottlePrefix = "throttle:token:ip:"
	// Idle buckets expire; a missing bucket starts full.
	tokenThrottleTTL = 10 * time.Second
)

// RateLimitResult is the outcome of one throttle check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills the bucket for the elapsed milliseconds and takes
// one token if available.
// KEYS[1] = bucket
// ARGV[1] = tokens/s, ARGV[2] = capacity, ARGV[3] = now (ms), ARGV[4] = TTL (ms)
// Returns {allowed, retry_after_ms, tokens_left}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])

return {allowed, wait, math.floor(tokens)}
`)

// CheckTokenThrottle takes one token from the bucket of ip. A non-positive
// rate disables the check. Redis errors fail open.
func (c *Cache) CheckTokenThrottle(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return allowAll(burst), nil
	}
	if burst < 1 {
		burst = 1
	}

	now := time.Now()
	res, err := tokenBucketScript.Run(ctx, c.client,
		[]string{bucketKey(ip)},
		ratePerSecond, burst, now.UnixMilli(), tokenThrottleTTL.Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		return allowAll(burst), nil
	}

	retryAfter := time.Duration(res[1]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  res[2],
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

func allowAll(burst int) *RateLimitResult {
	return &RateLimitResult{
		Allowed:   true,
		Remaining: int64(burst),
		ResetAt:   time.Now(),
	}
}

// bucketKey derives the Redis key for ip. Raw addresses are never stored.
func bucketKey(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return tokenThrottlePrefix + hex.EncodeToString(sum[:8])
}
