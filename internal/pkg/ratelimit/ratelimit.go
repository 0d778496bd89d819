// Package ratelimit 提供基于 Redis 的令牌桶限流。
//
// 用于约束操作面 API 上的手动触发类动作（立即查价、手动批处理），
// 令牌桶状态存放在 Redis，重启后窗口不丢失。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"cartsentry/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrWaitAborted 等待令牌期间 ctx 被取消。
var ErrWaitAborted = errors.New("rate limit wait aborted")

// 令牌桶脚本：按毫秒时间戳补充令牌，原子判定是否放行，
// 不放行时返回建议的等待毫秒数。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if rate <= 0 or burst <= 0 then
  return {1, 0}
end

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then tokens = burst end
if ts == nil then ts = now end

tokens = math.min(burst, tokens + math.max(0, now - ts) * rate / 1000.0)

local allowed = tokens >= 1
local wait_ms = 0
if allowed then
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil(burst / rate * 2000.0))

return {allowed and 1 or 0, wait_ms}
`

// Limiter Redis 令牌桶限流器。
type Limiter struct {
	rdb    *redis.Client
	key    string
	rate   float64 // token/s
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// New 创建限流器。rate 或 burst 为 0 时限流关闭（永远放行）。
func New(rdb *redis.Client, logger *slog.Logger, key string, rate, burst float64) *Limiter {
	if key == "" {
		key = "cartsentry:ratelimit:default"
	}
	return &Limiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Acquire 阻塞直到获得一个令牌或 ctx 取消。
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.rate <= 0 || l.burst <= 0 {
		return nil
	}

	start := time.Now()
	for {
		allowed, waitMs, err := l.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		// 少量抖动，避免多个等待方同时醒来
		wait += time.Duration(rand.Int63n(int64(10 * time.Millisecond)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrWaitAborted
		case <-timer.C:
		}
	}
}

// Allow 非阻塞判定，不放行时直接返回 false。
func (l *Limiter) Allow(ctx context.Context) (bool, error) {
	if l == nil || l.rate <= 0 || l.burst <= 0 {
		return true, nil
	}
	allowed, _, err := l.tryAcquire(ctx)
	return allowed, err
}

func (l *Limiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{l.key}, l.rate, l.burst, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
