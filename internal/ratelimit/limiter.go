// Package ratelimit throttles outbound exchange requests to stay inside the
// venue's request weight budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Limiter is a token-bucket limiter shared by all REST callers. Callers queue
// on Acquire until a token is available or the queue timeout elapses.
type Limiter struct {
	bucket       *rate.Limiter
	queueTimeout time.Duration
	log          *slog.Logger
}

// New builds a Limiter allowing perMinute requests with a burst of one
// minute's worth of tokens. queueTimeout bounds how long a caller may wait.
func New(perMinute int, queueTimeout time.Duration, log *slog.Logger) *Limiter {
	return &Limiter{
		bucket:       rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		queueTimeout: queueTimeout,
		log:          log.With(slog.String("component", "ratelimit")),
	}
}

// Acquire blocks until a request token is available. It returns
// domain.ErrRateLimited if the queue timeout elapses first, and the context
// error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()

	start := time.Now()
	err := l.bucket.Wait(waitCtx)
	if err == nil {
		if waited := time.Since(start); waited > time.Second {
			l.log.Warn("request queued behind rate limit",
				slog.Duration("waited", waited))
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.log.Warn("rate limit queue timeout",
		slog.Duration("queue_timeout", l.queueTimeout))
	return fmt.Errorf("ratelimit: acquire: queue timeout after %s: %w", l.queueTimeout, domain.ErrRateLimited)
}

// Backoff informs the limiter that the venue returned a throttle response.
// It drains the bucket so queued callers spread out over the penalty window.
func (l *Limiter) Backoff(penalty time.Duration) {
	tokens := l.bucket.Tokens()
	if tokens > 0 {
		l.bucket.AllowN(time.Now(), int(tokens))
	}
	l.log.Warn("venue throttle observed, draining token bucket",
		slog.Duration("penalty", penalty))
}
