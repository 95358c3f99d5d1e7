package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter adds n to the counter at key and returns the new total. The key
// expires after ttl.
type Counter interface {
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
}

// RedisCounter keeps window counters in Redis.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, n)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SharedWindow grants permits from a fixed window whose count lives in a
// Counter, so every gate using the same prefix draws from one budget.
// Windows are aligned to multiples of interval since the Unix epoch.
// Counter failures are retried once per interval until ctx is done.
type SharedWindow struct {
	counter  Counter
	prefix   string
	qps      int
	interval time.Duration
	clock
}

func NewSharedWindow(counter Counter, prefix string, qps int, interval time.Duration, opts ...WindowOption) *SharedWindow {
	if qps < 1 {
		qps = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	w := &SharedWindow{
		counter:  counter,
		prefix:   prefix,
		qps:      qps,
		interval: interval,
		clock:    wallClock(),
	}
	for _, opt := range opts {
		opt(&w.clock)
	}
	return w
}

func (w *SharedWindow) Budget() int { return w.qps }

func (w *SharedWindow) Take(ctx context.Context, want int) (int, error) {
	if want < 1 {
		return 0, nil
	}
	if want > w.qps {
		want = w.qps
	}

	for {
		now := w.now()
		window := now.UnixNano() / int64(w.interval)
		wait := time.Unix(0, (window+1)*int64(w.interval)).Sub(now)

		count, err := w.counter.IncrBy(ctx, fmt.Sprintf("%s:%d", w.prefix, window), int64(want), 2*w.interval)
		if err == nil {
			// Permits claimed past the budget are not returned; the window
			// simply fills early.
			if left := int64(w.qps) - (count - int64(want)); left > 0 {
				return int(min(left, int64(want))), nil
			}
		} else {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			wait = w.interval
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.after(wait):
		}
	}
}
