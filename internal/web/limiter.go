package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits at most a fixed number of requests per key per window.
type Limiter interface {
	// Allow counts one request for key. When it is refused, retryAfter is the
	// time until the current window ends.
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RedisLimiter is a fixed-window limiter shared by every replica.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiterFromURL connects to redisURL and returns a limiter allowing
// limit requests per window.
func NewRedisLimiterFromURL(ctx context.Context, redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLimiter(client, limit, window), nil
}

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "ado-ai:ratelimit:", now: time.Now}
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (slot+1)*int64(l.window))
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireAt(ctx, k, windowEnd.Add(time.Second))
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}
	if incr.Val() > int64(l.limit) {
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}

// MemoryLimiter is a fixed-window limiter for a single process.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*memWindow
	swept   time.Time
}

type memWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter returns a limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, windows: map[string]*memWindow{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.sweep(now)
		w = &memWindow{start: now}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.start.Add(l.window).Sub(now), nil
	}
	w.count++
	return true, 0, nil
}

// sweep drops expired windows, at most once per window length.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.window {
		return
	}
	l.swept = now
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}
