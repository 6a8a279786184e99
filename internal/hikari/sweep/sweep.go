// Package sweep runs periodic background compaction tasks such as evicting
// expired cooldowns or archiving idle sessions.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is used when a Runner is built with a non-positive interval.
const DefaultInterval = 60 * time.Second

// Func performs one sweep pass. now is the tick time.
type Func func(ctx context.Context, now time.Time)

// Runner invokes a Func on a fixed interval until its context is cancelled or
// Stop is called. A skipped or delayed tick is harmless: every sweep is
// best-effort compaction.
type Runner struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a Runner named name (used in log lines).
func New(name string, interval time.Duration, fn Func, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Name returns the runner's name.
func (r *Runner) Name() string { return r.name }

// Interval returns the tick interval.
func (r *Runner) Interval() time.Duration { return r.interval }

// Run blocks, sweeping on every tick, until ctx is cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("sweep: started", "sweep", r.name, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.runOnce(ctx, now)
		}
	}
}

// Stop signals Run to return. Safe to call multiple times and before Run.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) runOnce(ctx context.Context, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sweep: pass panicked", "sweep", r.name, "panic", p)
		}
	}()
	r.fn(ctx, now)
}
