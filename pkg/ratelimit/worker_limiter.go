// Package ratelimit provides Redis-backed send throttling and redelivery guards.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// SlidingWindowLimiter
// =============================================================================

// slidingWindowScript admits a request when the window holds fewer than
// ARGV[3] entries. A rejection returns the negative wait in milliseconds.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
// Without Redis, or when Redis fails, every request is allowed.
type SlidingWindowLimiter struct {
	redis     *redis.Client
	rate      int
	window    time.Duration
	burstSize int
}

// NewSlidingWindowLimiter creates a limiter admitting requestsPerSecond plus
// burstSize calls per one-second window.
func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burstSize int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:     redisClient,
		rate:      requestsPerSecond,
		window:    time.Second,
		burstSize: burstSize,
	}
}

// Allow checks if request is allowed and returns wait duration if not.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil || l.rate <= 0 {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{"ratelimit:" + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.rate+l.burstSize,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	switch {
	case result == 1:
		return true, 0
	case result < 0:
		return false, time.Duration(-result) * time.Millisecond
	default:
		return false, l.window
	}
}

// =============================================================================
// Debouncer
// =============================================================================

// Debouncer remembers processed keys for a while. Redis is authoritative when
// configured; a local map covers the no-Redis case and Redis errors.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	local map[string]time.Time
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		now:      time.Now,
		local:    make(map[string]time.Time),
	}
}

// IsDuplicate reports whether key was marked within the debounce window.
func (d *Debouncer) IsDuplicate(ctx context.Context, key string) bool {
	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, "debounce:"+key).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.RLock()
	last, ok := d.local[key]
	d.mu.RUnlock()
	return ok && d.now().Sub(last) < d.duration
}

// Mark records key as processed.
func (d *Debouncer) Mark(ctx context.Context, key string) {
	if d.redis != nil {
		d.redis.Set(ctx, "debounce:"+key, "1", d.duration)
	}

	now := d.now()
	d.mu.Lock()
	d.local[key] = now
	for k, v := range d.local {
		if now.Sub(v) > d.duration*2 {
			delete(d.local, k)
		}
	}
	d.mu.Unlock()
}
