// Package memory implements Hikari's two memory tiers.
//
// Session memory keeps the recent conversation between the companion and a
// user (optionally scoped to a group) as a bounded FIFO with a time-to-live;
// expired sessions are archived as one summary record per calendar day.
//
// Long-term memory keeps durable facts, preferences and relationships per
// user. Each category is capped; when an insert overflows a cap the items are
// ranked by Scorer and the lowest-ranked are dropped. A periodic sweep
// removes items that are both stale and of low relevance.
package memory

import (
	"time"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
)

// Roles used in session messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// dateKeyLayout formats archive keys (one per calendar day, UTC).
const dateKeyLayout = "2006-01-02"

func longTermPath(userID string) string {
	return docstore.Join("memory", userID, "longTerm")
}

func sessionPath(userID, groupID string) string {
	if groupID == "" {
		return docstore.Join("memory", userID, "sessions", "current")
	}
	return docstore.Join("memory", userID, "sessions", "groups", groupID, "current")
}

func historyPrefix(userID string) string {
	return docstore.Join("memory", userID, "sessions", "history") + "/"
}

func historyPath(userID, dateKey string) string {
	return historyPrefix(userID) + dateKey
}

// estimateTokens approximates a token count at ~4 characters per token plus
// a small per-message overhead for role framing.
func estimateTokens(msgs []Message) int {
	const charsPerToken = 4
	const perMessageOverhead = 4

	total := 0
	for _, m := range msgs {
		total += len(m.Content)/charsPerToken + perMessageOverhead
	}
	return total
}
