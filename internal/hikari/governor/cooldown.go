package governor

import (
	"fmt"
	"math"
	"time"
)

// CooldownEntry records the last allowed interaction for a (user, group).
type CooldownEntry struct {
	LastInteraction  time.Time
	InteractionCount int
	ExpiresAt        time.Time
}

func (e *CooldownEntry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func cooldownKey(userID, groupID string) string {
	if groupID == "" {
		return userID
	}
	return userID + "|" + groupID
}

// CheckCooldown refuses while the (user, group) cooldown is active.
func (g *Governor) CheckCooldown(userID, groupID string) Verdict {
	return g.checkCooldownAt(userID, groupID, time.Now())
}

func (g *Governor) checkCooldownAt(userID, groupID string, now time.Time) Verdict {
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	return g.checkCooldownLocked(userID, groupID, now)
}

func (g *Governor) checkCooldownLocked(userID, groupID string, now time.Time) Verdict {
	e, ok := g.cooldowns[cooldownKey(userID, groupID)]
	if !ok || e.expired(now) {
		return allow
	}
	secs := int(math.Ceil(e.ExpiresAt.Sub(now).Seconds()))
	return block(fmt.Sprintf("cooldown active, wait %d seconds", secs))
}

func (g *Governor) recordCooldownAt(userID, groupID string, now time.Time) {
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	g.recordCooldownLocked(userID, groupID, now)
}

func (g *Governor) recordCooldownLocked(userID, groupID string, now time.Time) {
	if g.cooldown <= 0 {
		return
	}
	key := cooldownKey(userID, groupID)
	count := 1
	if prev, ok := g.cooldowns[key]; ok {
		count = prev.InteractionCount + 1
	}
	g.cooldowns[key] = &CooldownEntry{
		LastInteraction:  now,
		InteractionCount: count,
		ExpiresAt:        now.Add(g.cooldown),
	}
}

func (g *Governor) sweepCooldownsAt(now time.Time) int {
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	n := 0
	for k, e := range g.cooldowns {
		if e.expired(now) {
			delete(g.cooldowns, k)
			n++
		}
	}
	return n
}

// CooldownCount returns the number of tracked cooldown entries.
func (g *Governor) CooldownCount() int {
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	return len(g.cooldowns)
}
