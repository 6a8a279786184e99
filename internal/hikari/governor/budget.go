package governor

import (
	"context"
	"fmt"
	"math"
	"time"
)

// budgetPeriod is the length of one token-budget period.
const budgetPeriod = 24 * time.Hour

// Budget is the global token allowance. It is only changed through consume
// and reset.
type Budget struct {
	DailyLimit int       `json:"dailyLimit"`
	Used       int       `json:"used"`
	ResetAt    time.Time `json:"resetAt"`
}

// Remaining returns max(0, DailyLimit-Used).
func (b Budget) Remaining() int {
	if r := b.DailyLimit - b.Used; r > 0 {
		return r
	}
	return 0
}

func (b *Budget) consume(amount int) {
	if amount <= 0 {
		return
	}
	b.Used += amount
}

func (b *Budget) reset(now time.Time) {
	b.Used = 0
	b.ResetAt = now.Add(budgetPeriod)
}

func (b Budget) due(now time.Time) bool {
	return !now.Before(b.ResetAt)
}

// BudgetSnapshot is a read-only view for status reporting.
type BudgetSnapshot struct {
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

// Snapshot returns the current budget state.
func (g *Governor) Snapshot() BudgetSnapshot {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.resetIfDueLocked(time.Now())
	return BudgetSnapshot{
		DailyLimit: g.budget.DailyLimit,
		Used:       g.budget.Used,
		Remaining:  g.budget.Remaining(),
		ResetAt:    g.budget.ResetAt,
	}
}

// CheckBudget refuses when the budget is exhausted.
func (g *Governor) CheckBudget() Verdict {
	return g.checkBudgetAt(time.Now())
}

func (g *Governor) checkBudgetAt(now time.Time) Verdict {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()

	g.resetIfDueLocked(now)

	remaining := g.budget.Remaining()
	if remaining <= 0 {
		mins := int(math.Ceil(g.budget.ResetAt.Sub(now).Minutes()))
		return block(fmt.Sprintf("daily token budget exhausted, resets in %d minutes", mins))
	}
	if remaining <= g.lowWater && !g.lowWarned {
		g.lowWarned = true
		g.logger.Warn("governor: token budget running low",
			"remaining", remaining,
			"daily_limit", g.budget.DailyLimit,
			"reset_at", g.budget.ResetAt.Format(time.RFC3339),
		)
	}
	return allow
}

// Charge deducts tokens from the budget and persists the new total.
// Non-positive amounts are ignored.
func (g *Governor) Charge(ctx context.Context, tokens int) {
	if tokens <= 0 {
		return
	}
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.chargeLocked(tokens, time.Now())
	g.persistBudgetLocked(ctx)
}

func (g *Governor) chargeAt(tokens int, now time.Time) {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.chargeLocked(tokens, now)
}

func (g *Governor) chargeLocked(tokens int, now time.Time) {
	g.resetIfDueLocked(now)
	g.budget.consume(tokens)
}

// ResetBudget starts a fresh budget period immediately.
func (g *Governor) ResetBudget(ctx context.Context) {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.budget.reset(time.Now())
	g.lowWarned = false
	g.persistBudgetLocked(ctx)
}

// resetBudgetIfDueAt reports whether a reset happened.
func (g *Governor) resetBudgetIfDueAt(now time.Time) bool {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	return g.resetIfDueLocked(now)
}

func (g *Governor) resetIfDueLocked(now time.Time) bool {
	if !g.budget.due(now) {
		return false
	}
	g.logger.Info("governor: token budget period ended",
		"used", g.budget.Used, "daily_limit", g.budget.DailyLimit)
	g.budget.reset(now)
	g.lowWarned = false
	return true
}

// LoadBudget restores the persisted budget. The configured daily limit always
// wins over the stored one. A missing document or a read failure leaves the
// fresh in-memory budget in place.
func (g *Governor) LoadBudget(ctx context.Context) {
	if g.store == nil {
		return
	}
	var stored Budget
	found, err := g.store.Get(ctx, BudgetPath, &stored)
	if err != nil {
		g.logger.Warn("governor: failed to load budget, starting fresh", "err", err)
		return
	}
	if !found {
		return
	}

	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.budget.Used = stored.Used
	if !stored.ResetAt.IsZero() {
		g.budget.ResetAt = stored.ResetAt
	}
	g.resetIfDueLocked(time.Now())
	g.logger.Info("governor: restored token budget",
		"used", g.budget.Used, "remaining", g.budget.Remaining(),
		"reset_at", g.budget.ResetAt.Format(time.RFC3339))
}

func (g *Governor) persistBudget(ctx context.Context) {
	g.budgetMu.Lock()
	defer g.budgetMu.Unlock()
	g.persistBudgetLocked(ctx)
}

// persistBudgetLocked writes the counters with a partial update so unrelated
// fields in the document survive. Must be called with budgetMu held.
func (g *Governor) persistBudgetLocked(ctx context.Context) {
	if g.store == nil {
		return
	}
	err := g.store.Update(ctx, BudgetPath, map[string]any{
		"dailyLimit": g.budget.DailyLimit,
		"used":       g.budget.Used,
		"resetAt":    g.budget.ResetAt,
	})
	if err != nil {
		g.logger.Warn("governor: failed to persist budget", "err", err)
	}
}
