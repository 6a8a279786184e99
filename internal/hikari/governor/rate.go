package governor

import (
	"fmt"
	"time"
)

// RateCounter counts a user's allowed messages within one fixed window.
type RateCounter struct {
	Count         int
	WindowResetAt time.Time
}

func (c *RateCounter) expired(now time.Time) bool {
	return !now.Before(c.WindowResetAt)
}

// CheckRate refuses when userID has used up the current window. An expired
// window is discarded on read.
func (g *Governor) CheckRate(userID string) Verdict {
	return g.checkRateAt(userID, time.Now())
}

func (g *Governor) checkRateAt(userID string, now time.Time) Verdict {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()
	return g.checkRateLocked(userID, now)
}

func (g *Governor) checkRateLocked(userID string, now time.Time) Verdict {
	c, ok := g.counters[userID]
	if !ok {
		return allow
	}
	if c.expired(now) {
		delete(g.counters, userID)
		return allow
	}
	if c.Count >= g.maxPerMinute {
		return block(fmt.Sprintf("rate limit exceeded, max %d messages per minute", g.maxPerMinute))
	}
	return allow
}

func (g *Governor) recordRateAt(userID string, now time.Time) {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()
	g.recordRateLocked(userID, now)
}

func (g *Governor) recordRateLocked(userID string, now time.Time) {
	c, ok := g.counters[userID]
	if !ok || c.expired(now) {
		g.counters[userID] = &RateCounter{Count: 1, WindowResetAt: now.Add(rateWindow)}
		return
	}
	c.Count++
}

func (g *Governor) sweepRatesAt(now time.Time) int {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()
	n := 0
	for k, c := range g.counters {
		if c.expired(now) {
			delete(g.counters, k)
			n++
		}
	}
	return n
}

// RateCounterCount returns the number of tracked rate windows.
func (g *Governor) RateCounterCount() int {
	g.rateMu.Lock()
	defer g.rateMu.Unlock()
	return len(g.counters)
}
