package core

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of CPU- or I/O-heavy tasks in flight for one
// request. Optimization and persistence share the same Limiter.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight int64
	peak     int64
}

// NewLimiter returns a Limiter admitting at most n concurrent tasks. n < 1 is
// treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the configured bound.
func (l *Limiter) Size() int { return l.size }

// Do runs fn once a slot is free. It returns ctx.Err() without running fn
// when ctx is cancelled first.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	n := atomic.AddInt64(&l.inFlight, 1)
	defer atomic.AddInt64(&l.inFlight, -1)
	for {
		p := atomic.LoadInt64(&l.peak)
		if n <= p || atomic.CompareAndSwapInt64(&l.peak, p, n) {
			break
		}
	}
	return fn()
}

// Peak reports the highest number of tasks observed running at once.
func (l *Limiter) Peak() int { return int(atomic.LoadInt64(&l.peak)) }
