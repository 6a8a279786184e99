package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/memory"
)

const summarySystemPrompt = "You summarise chat sessions between a companion and a user. " +
	"Write two or three sentences in the third person covering the topics discussed " +
	"and anything the user revealed about themselves. Do not invent details."

// Budget is the subset of *governor.Governor that meters summary calls.
type Budget interface {
	CheckBudget() governor.Verdict
	Charge(ctx context.Context, tokens int)
}

var _ Budget = (*governor.Governor)(nil)

// Summariser asks the model to condense a session for its archive record.
// With a Budget set, calls are refused while the budget is exhausted and
// Fallback (ExtractiveSummariser when nil) produces the summary instead.
type Summariser struct {
	Provider Provider
	Budget   Budget
	Fallback memory.Summariser
}

var _ memory.Summariser = (*Summariser)(nil)

// Summarise implements memory.Summariser.
func (s *Summariser) Summarise(ctx context.Context, messages []memory.Message) (string, error) {
	if len(messages) == 0 {
		return "empty session", nil
	}
	if s.Budget != nil {
		if v := s.Budget.CheckBudget(); !v.Allowed {
			return s.fallback().Summarise(ctx, messages)
		}
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	resp, err := s.Provider.Generate(ctx, Request{System: summarySystemPrompt, UserText: b.String()})
	if err != nil {
		return "", fmt.Errorf("llm: summarise session: %w", err)
	}
	if s.Budget != nil {
		s.Budget.Charge(ctx, resp.Usage.Total)
	}
	if resp.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func (s *Summariser) fallback() memory.Summariser {
	if s.Fallback != nil {
		return s.Fallback
	}
	return memory.ExtractiveSummariser{}
}
