package util

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket that gates how many changed files the watcher
// feeds into the index per flush.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter allows r events per second with bursts of b. r <= 0 disables
// limiting.
func NewLimiter(r float64, b int) *Limiter {
	limit := rate.Limit(r)
	if r <= 0 {
		limit = rate.Inf
	}
	return &Limiter{inner: rate.NewLimiter(limit, max(b, 1))}
}

// Allow reports whether n events may happen now and consumes their tokens.
func (l *Limiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	return l.inner.AllowN(time.Now(), n)
}
