package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaTokenBucket refills and drains a token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var luaTokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

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

-- Expire idle buckets so the keyspace self-cleans.
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

const redisBucketPrefix = "warden:limiter:"

// RedisLimiter shares one token bucket per key across guard instances.
// The bucket state lives in Redis and is updated by a single Lua script,
// so concurrent checks from different processes cannot double-spend.
type RedisLimiter struct {
	client    *redis.Client
	perSecond float64
	burst     int
}

// NewRedisLimiter wraps an existing client. perSecond is the sustained
// refill rate per key and burst the bucket capacity.
func NewRedisLimiter(client *redis.Client, perSecond float64, burst int) *RedisLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{client: client, perSecond: perSecond, burst: burst}
}

// Allow executes the token bucket script for the key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	bucket := redisBucketPrefix + key
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := luaTokenBucket.Run(ctx, l.client, []string{bucket}, l.perSecond, l.burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script reply %T", res)
	}
	allowed, _ := reply[0].(int64)
	return allowed == 1, nil
}
