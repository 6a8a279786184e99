// Package governor decides whether a user may trigger a language-model call
// right now. It enforces three independent policies: a global daily token
// budget, a per-(user, group) cooldown, and a per-user messages-per-minute
// rate limit.
//
// Every check is evaluated against an explicit instant; the exported methods
// use the wall clock and the unexported *At variants exist for tests.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultDailyTokenLimit  = 200_000
	DefaultLowWaterFraction = 0.1
	DefaultMaxPerMinute     = 10
	// BudgetPath is where the budget document lives in the store.
	BudgetPath = "governor/budget"
)

// rateWindow is the fixed length of one rate-limit window.
const rateWindow = time.Minute

// Verdict is the outcome of a governor check.
type Verdict struct {
	Allowed bool
	// Reason explains a refusal. Empty when Allowed.
	Reason string
}

var allow = Verdict{Allowed: true}

func block(reason string) Verdict { return Verdict{Reason: reason} }

// Config configures a Governor.
type Config struct {
	DailyTokenLimit int
	// LowWaterFraction of DailyTokenLimit below which a warning is logged.
	LowWaterFraction float64
	// Cooldown is the minimum gap between two allowed interactions of the
	// same (user, group). Zero disables the cooldown.
	Cooldown     time.Duration
	MaxPerMinute int

	// Store persists the budget when non-nil.
	Store  docstore.Store
	Logger *slog.Logger
}

// Governor is safe for concurrent use. Each policy has its own lock. Admit
// is the only operation holding two at once, cooldownMu then rateMu.
type Governor struct {
	cooldown     time.Duration
	maxPerMinute int
	lowWater     int
	store        docstore.Store
	logger       *slog.Logger

	budgetMu  sync.Mutex
	budget    Budget
	lowWarned bool

	cooldownMu sync.Mutex
	cooldowns  map[string]*CooldownEntry

	rateMu   sync.Mutex
	counters map[string]*RateCounter
}

// New returns a Governor whose budget period starts now.
func New(cfg Config) *Governor {
	return newAt(cfg, time.Now())
}

func newAt(cfg Config, now time.Time) *Governor {
	if cfg.DailyTokenLimit <= 0 {
		cfg.DailyTokenLimit = DefaultDailyTokenLimit
	}
	if cfg.LowWaterFraction <= 0 {
		cfg.LowWaterFraction = DefaultLowWaterFraction
	}
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = DefaultMaxPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Governor{
		cooldown:     cfg.Cooldown,
		maxPerMinute: cfg.MaxPerMinute,
		lowWater:     int(float64(cfg.DailyTokenLimit) * cfg.LowWaterFraction),
		store:        cfg.Store,
		logger:       cfg.Logger,
		cooldowns:    make(map[string]*CooldownEntry),
		counters:     make(map[string]*RateCounter),
	}
	g.budget = Budget{DailyLimit: cfg.DailyTokenLimit}
	g.budget.reset(now)
	return g
}

// Check runs the budget, cooldown and rate checks in that order and returns
// the first refusal, or an allowing verdict when all pass.
func (g *Governor) Check(userID, groupID string) Verdict {
	return g.checkAt(userID, groupID, time.Now())
}

func (g *Governor) checkAt(userID, groupID string, now time.Time) Verdict {
	if v := g.checkBudgetAt(now); !v.Allowed {
		return v
	}
	if v := g.checkCooldownAt(userID, groupID, now); !v.Allowed {
		return v
	}
	return g.checkRateAt(userID, now)
}

// Admit runs the same checks as Check and, when all pass, records the
// interaction before any other caller can observe the cooldown or rate
// state. Concurrent messages from one user therefore cannot all pass.
func (g *Governor) Admit(userID, groupID string) Verdict {
	return g.admitAt(userID, groupID, time.Now())
}

func (g *Governor) admitAt(userID, groupID string, now time.Time) Verdict {
	if v := g.checkBudgetAt(now); !v.Allowed {
		return v
	}
	// Lock order: cooldownMu before rateMu.
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	g.rateMu.Lock()
	defer g.rateMu.Unlock()

	if v := g.checkCooldownLocked(userID, groupID, now); !v.Allowed {
		return v
	}
	if v := g.checkRateLocked(userID, now); !v.Allowed {
		return v
	}
	g.recordCooldownLocked(userID, groupID, now)
	g.recordRateLocked(userID, now)
	return allow
}

// RecordInteraction starts a new cooldown for (userID, groupID) and counts
// one message against userID's rate window. Call it once per allowed message.
func (g *Governor) RecordInteraction(userID, groupID string) {
	g.recordInteractionAt(userID, groupID, time.Now())
}

func (g *Governor) recordInteractionAt(userID, groupID string, now time.Time) {
	g.recordCooldownAt(userID, groupID, now)
	g.recordRateAt(userID, now)
}

// Sweep evicts expired cooldowns and rate counters and resets the budget when
// its period has ended. It uses the same expiry predicates as the checks.
func (g *Governor) Sweep(ctx context.Context, now time.Time) {
	cooldowns := g.sweepCooldownsAt(now)
	counters := g.sweepRatesAt(now)
	if g.resetBudgetIfDueAt(now) {
		g.persistBudget(ctx)
	}
	if cooldowns > 0 || counters > 0 {
		g.logger.Debug("governor: swept expired entries", "cooldowns", cooldowns, "rate_counters", counters)
	}
}
