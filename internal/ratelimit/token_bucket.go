// Package ratelimit meters API callers with a token bucket kept in Redis so
// every API replica shares one budget per subject.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "hueshift:ratelimit"

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// takeScript refills the bucket for the elapsed time, then tries to take
// ARGV[4] tokens. It returns {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - ts) * refill_per_ms)

local allowed = 0
local retry_after_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_after_ms = math.ceil((cost - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), retry_after_ms}
`)

// NewRedisTokenBucket holds at most capacity tokens per subject and refills
// refillPerSecond tokens each second.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, refillPerSecond float64, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if refillPerSecond <= 0 || math.IsNaN(refillPerSecond) || math.IsInf(refillPerSecond, 0) {
		return nil, errors.New("refill rate must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: refillPerSecond / 1000,
		ttl:         fullRefill(capacity, refillPerSecond),
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// fullRefill is how long an idle bucket takes to fill up again; after that
// its Redis key carries no information and may expire.
func fullRefill(capacity int, refillPerSecond float64) time.Duration {
	d := time.Duration(float64(capacity) / refillPerSecond * float64(time.Second))
	return max(d, time.Second) + time.Second
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens for subject. A cost above capacity can never be
// satisfied and is rejected without touching Redis.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	if cost < 1 {
		cost = 1
	}
	if int64(cost) > l.capacity {
		return Decision{}, fmt.Errorf("cost %d exceeds bucket capacity %d", cost, l.capacity)
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	raw, err := takeScript.Run(
		ctx,
		l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return parseDecision(raw)
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket response %T", raw)
	}

	var parsed [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("parse token bucket field %d: %w", i, err)
		}
		parsed[i] = n
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
