package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and withdraws atomically. The bucket is stored as
// a hash {tokens, ts} and expires once it would be full again.
//
// KEYS[1] bucket key
// ARGV[1] refill rate (tokens/second), ARGV[2] burst, ARGV[3] now (ms), ARGV[4] ttl (ms)
var tokenBucketScript = rdb.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisLimiter is a token bucket shared by every gateway instance using the
// same Redis.
type RedisLimiter struct {
	client rdb.UniversalClient
	prefix string
	rate   float64
	burst  int
	ttl    time.Duration
}

// NewRedisLimiter creates a limiter storing buckets under prefix.
func NewRedisLimiter(client rdb.UniversalClient, prefix string, requestsPerSecond float64, burst int) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	refill := time.Duration(math.Ceil(float64(burst)/requestsPerSecond)) * time.Second
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		rate:   requestsPerSecond,
		burst:  burst,
		ttl:    refill + time.Second,
	}
}

// Allow withdraws one token for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := l.prefix + strings.ReplaceAll(key, " ", "_")
	now := time.Now().UnixMilli()

	vals, err := tokenBucketScript.Run(ctx, l.client, []string{redisKey},
		l.rate, l.burst, now, l.ttl.Milliseconds()).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("token bucket script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("token bucket script: unexpected reply %v", vals)
	}

	allowed, _ := vals[0].(int64)
	tokenStr, _ := vals[1].(string)
	tokens, err := strconv.ParseFloat(tokenStr, 64)
	if err != nil {
		return Result{}, fmt.Errorf("token bucket script: parse tokens %q: %w", tokenStr, err)
	}

	if allowed == 1 {
		return Result{Allowed: true, Remaining: int(tokens)}, nil
	}

	wait := time.Duration((1 - tokens) / l.rate * float64(time.Second))
	return Result{Allowed: false, RetryAfter: wait}, nil
}
