package server

import "sync/atomic"

// ConnectionLimiter caps the number of concurrent sessions across all
// listeners. A max of zero or less means unlimited.
type ConnectionLimiter struct {
	max    int64
	active atomic.Int64
}

// NewConnectionLimiter creates a limiter admitting at most max concurrent
// connections.
func NewConnectionLimiter(max int) *ConnectionLimiter {
	return &ConnectionLimiter{max: int64(max)}
}

// TryAcquire claims a slot, reporting false when the server is at capacity.
func (l *ConnectionLimiter) TryAcquire() bool {
	if l.max <= 0 {
		l.active.Add(1)
		return true
	}
	for {
		n := l.active.Load()
		if n >= l.max {
			return false
		}
		if l.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a previously acquired slot.
func (l *ConnectionLimiter) Release() {
	l.active.Add(-1)
}

// Current reports the number of active connections.
func (l *ConnectionLimiter) Current() int64 {
	return l.active.Load()
}
