// Package retry provides exponential-backoff helpers for transient failures:
// Do for bounded retries of a single call, and Backoff for long-running
// reconnect loops.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour of Do.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; later waits double
	// up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry classifies errors as retryable. nil retries everything.
	ShouldRetry func(err error) bool
}

// DefaultConfig suits short-lived network calls such as message delivery.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Do calls fn up to cfg.MaxAttempts times, backing off between attempts. It
// stops early when ctx is cancelled, fn succeeds, or ShouldRetry says no.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(error) bool { return true }
	}
	b := NewBackoff(cfg.InitialDelay, cfg.MaxDelay)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !cfg.ShouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}
		delay := b.Next()
		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", cfg.MaxAttempts, "err", lastErr, "delay", delay)
		if err := Sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// Backoff yields exponentially growing delays between Initial and Max.
// It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	next    time.Duration
}

// NewBackoff returns a Backoff, substituting DefaultConfig values for
// non-positive arguments.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultConfig.InitialDelay
	}
	if max <= 0 {
		max = DefaultConfig.MaxDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max, next: initial}
}

// Next returns the current delay and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	return d
}

// Reset returns the sequence to its initial delay.
func (b *Backoff) Reset() { b.next = b.Initial }

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
