// Package ratelimit bounds how many work items may start per time window.
//
// TokenBucket refills continuously from a monotonic clock and is the
// default. FixedWindow reproduces the "run N, wait, run N more" cycle with a
// fixed delay between batches. SharedWindow splits one budget between
// processes through a counter held in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	KindToken  = "token"
	KindWindow = "window"
	KindRedis  = "redis"
)

// Gate hands out start permits. Take blocks until at least one permit is
// available and returns how many were granted, never more than want and
// never more than the gate's per-cycle budget.
type Gate interface {
	Take(ctx context.Context, want int) (int, error)
	Budget() int
}

// New builds the gate named by kind.
func New(kind string, qps int, interval time.Duration) (Gate, error) {
	switch kind {
	case "", KindToken:
		return NewTokenBucket(qps, interval), nil
	case KindWindow:
		return NewFixedWindow(qps, interval), nil
	case KindRedis:
		return nil, fmt.Errorf("limiter %q needs a shared counter, use NewSharedWindow", kind)
	default:
		return nil, fmt.Errorf("unknown limiter kind %q", kind)
	}
}

// TokenBucket refills qps permits per interval, one at a time.
type TokenBucket struct {
	qps     int
	limiter *rate.Limiter
}

func NewTokenBucket(qps int, interval time.Duration) *TokenBucket {
	if qps < 1 {
		qps = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		qps:     qps,
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(qps)), qps),
	}
}

func (b *TokenBucket) Budget() int { return b.qps }

func (b *TokenBucket) Take(ctx context.Context, want int) (int, error) {
	if want < 1 {
		return 0, nil
	}
	if want > b.qps {
		want = b.qps
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	n := 1
	for n < want && b.limiter.Allow() {
		n++
	}
	return n, nil
}

// FixedWindow grants up to qps permits at once and then makes the next
// Take wait until interval has passed since the previous grant.
type FixedWindow struct {
	qps      int
	interval time.Duration
	clock

	mu   sync.Mutex
	last time.Time
}

type clock struct {
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func wallClock() clock {
	return clock{now: time.Now, after: time.After}
}

// WindowOption customises a FixedWindow or SharedWindow.
type WindowOption func(*clock)

// WithClock replaces the wall clock and timer used by the window.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) WindowOption {
	return func(c *clock) {
		c.now = now
		c.after = after
	}
}

func NewFixedWindow(qps int, interval time.Duration, opts ...WindowOption) *FixedWindow {
	if qps < 1 {
		qps = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	w := &FixedWindow{
		qps:      qps,
		interval: interval,
		clock:    wallClock(),
	}
	for _, opt := range opts {
		opt(&w.clock)
	}
	return w
}

func (w *FixedWindow) Budget() int { return w.qps }

func (w *FixedWindow) Take(ctx context.Context, want int) (int, error) {
	if want < 1 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.last.IsZero() {
		if wait := w.interval - w.now().Sub(w.last); wait > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-w.after(wait):
			}
		}
	}
	w.last = w.now()

	if want > w.qps {
		want = w.qps
	}
	return want, nil
}
