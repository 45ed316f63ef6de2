package server

import "sync/atomic"

// ConcurrencyLimiter caps the number of requests in flight across the
// whole instance. Counting is lock-free.
type ConcurrencyLimiter struct {
	current atomic.Int64
	max     int64
}

// NewConcurrencyLimiter creates a limiter with the specified maximum.
func NewConcurrencyLimiter(max int64) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{max: max}
}

// Acquire attempts to take a slot. Returns false at capacity.
func (l *ConcurrencyLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release returns a slot.
func (l *ConcurrencyLimiter) Release() {
	l.current.Add(-1)
}

// Current returns the number of slots in use.
func (l *ConcurrencyLimiter) Current() int64 {
	return l.current.Load()
}

// Max returns the configured capacity.
func (l *ConcurrencyLimiter) Max() int64 {
	return l.max
}
