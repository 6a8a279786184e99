package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultMaxHistoryTokens bounds the session history placed in a prompt.
const DefaultMaxHistoryTokens = 3000

// DefaultPromptFacts is how many top-ranked facts go into a prompt.
const DefaultPromptFacts = 8

// PromptContext is the memory-derived part of a model prompt.
type PromptContext struct {
	// Profile is a plain-text description of what the companion remembers
	// about the user. Empty when nothing is known.
	Profile string
	// History holds recent session turns, oldest first.
	History []Message
}

// Assembler gathers long-term profile data and recent session turns for a
// prompt. Session history takes the token budget; the oldest turns are
// dropped first when it overflows.
type Assembler struct {
	Sessions  *Sessions
	LongTerm  *LongTerm
	MaxTokens int
	MaxFacts  int
	// CountTokens measures one message body. Defaults to a 4-chars-per-token
	// heuristic.
	CountTokens func(string) int
}

// Assemble builds the prompt context for a message from userID in groupID.
func (a *Assembler) Assemble(ctx context.Context, userID, groupID string) PromptContext {
	return a.assembleAt(ctx, userID, groupID, time.Now())
}

func (a *Assembler) assembleAt(ctx context.Context, userID, groupID string, now time.Time) PromptContext {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxHistoryTokens
	}
	maxFacts := a.MaxFacts
	if maxFacts <= 0 {
		maxFacts = DefaultPromptFacts
	}

	var pc PromptContext
	if a.LongTerm != nil {
		um := a.LongTerm.Get(ctx, userID)
		facts := a.LongTerm.topFactsAt(ctx, userID, maxFacts, now)
		pc.Profile = describe(um, facts)
	}
	if a.Sessions != nil {
		if st, ok := a.Sessions.getAt(ctx, userID, groupID, now); ok {
			pc.History = a.trim(st.Messages, maxTokens)
		}
	}
	return pc
}

func (a *Assembler) cost(msgs []Message) int {
	if a.CountTokens == nil {
		return estimateTokens(msgs)
	}
	total := 0
	for _, m := range msgs {
		total += a.CountTokens(m.Content) + 4
	}
	return total
}

// trim drops the oldest messages until the history fits the budget.
func (a *Assembler) trim(msgs []Message, budget int) []Message {
	for len(msgs) > 0 && a.cost(msgs) > budget {
		msgs = msgs[1:]
	}
	return msgs
}

// describe renders the long-term aggregate as prompt text.
func describe(um UserMemory, facts []Fact) string {
	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("Things you know about this user:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}

	if len(um.Preferences) > 0 {
		prefs := make([]*Preference, 0, len(um.Preferences))
		for _, p := range um.Preferences {
			prefs = append(prefs, p)
		}
		sort.Slice(prefs, func(i, j int) bool { return prefs[i].Topic < prefs[j].Topic })
		b.WriteString("Their preferences:\n")
		for _, p := range prefs {
			fmt.Fprintf(&b, "- %s: %s\n", p.Topic, p.Value)
		}
	}

	if len(um.Relationships) > 0 {
		targets := make([]string, 0, len(um.Relationships))
		for t := range um.Relationships {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		b.WriteString("People they know:\n")
		for _, t := range targets {
			r := um.Relationships[t]
			line := t
			if r.Kind != "" {
				line += " (" + r.Kind + ")"
			}
			if r.Note != "" {
				line += ": " + r.Note
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if !um.Profile.FirstSeen.IsZero() && um.Stats.TotalMessages > 0 {
		fmt.Fprintf(&b, "You have exchanged %d messages since %s.\n",
			um.Stats.TotalMessages, um.Profile.FirstSeen.UTC().Format(time.DateOnly))
	}
	return strings.TrimRight(b.String(), "\n")
}
