// Package ratelimit serializes outbound request timing across all concurrent
// crawl tasks. A single limiter is shared by every caller so the whole
// process stays under the configured requests-per-second ceiling.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// minRPS is the floor applied to nonsensical configurations; a zero or
// negative rate would otherwise block the crawl forever.
const minRPS = 0.01

// Limiter grants request slots at a fixed rate with no burst allowance.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter that admits at most rps requests per second. The
// first caller proceeds immediately; every subsequent grant waits until at
// least 1/rps seconds after the previous one, regardless of which goroutine
// asks.
func New(rps float64) *Limiter {
	if rps < minRPS {
		rps = minRPS
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the shared schedule grants the caller a slot, or until
// ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
