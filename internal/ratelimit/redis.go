package ratelimit

import (
	"context"

	"github.com/kapetan-io/tackle/clock"
	"github.com/redis/go-redis/v9"
)

// Atomic token-bucket check-and-consume. Bucket state lives in a hash
// (tokens, last-refill ms) and expires after a minute idle.
const script = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rps = tonumber(ARGV[3])

local t = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(t[1]) or burst
local ts = tonumber(t[2]) or now
local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + delta * rps / 1000.0)

if tokens >= 1.0 then
  tokens = tokens - 1.0
  redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
  redis.call('PEXPIRE', key, 60000)
  return 1
else
  redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
  redis.call('PEXPIRE', key, 60000)
  return 0
end
`

// RedisLimiter shares admission buckets across scheduler nodes. Same
// chain semantics as MemoryLimiter; an unreachable Redis fails closed.
type RedisLimiter struct {
	rdb    *redis.Client
	rates  map[string]Rate
	logger func(string, ...any)
}

func NewRedis(rdb *redis.Client, rates map[string]Rate, logger func(string, ...any)) *RedisLimiter {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &RedisLimiter{rdb: rdb, rates: rates, logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, scopes ...Scope) bool {
	now := clock.Now().UnixMilli()
	for _, s := range scopes {
		rate, ok := l.rates[s.Kind]
		if !ok {
			rate = Rate{PerSec: 1, Burst: 1}
		}
		key := "rl:" + s.Kind + ":" + s.Key
		res, err := l.rdb.Eval(ctx, script, []string{key}, now, rate.Burst, rate.PerSec).Result()
		if err != nil {
			l.logger("rate_limit_redis_error", "kind", s.Kind, "key", s.Key, "error", err)
			return false
		}
		if res.(int64) != 1 {
			l.logger("rate_limited", "kind", s.Kind, "key", s.Key)
			return false
		}
	}
	return true
}
