package memory

import (
	"context"
	"fmt"
	"strings"
)

// Summariser condenses a session into the text stored in its archive record.
type Summariser interface {
	Summarise(ctx context.Context, messages []Message) (string, error)
}

// ExtractiveSummariser builds a summary from the session itself without a
// model call: the number of turns and the first and last things the user said.
type ExtractiveSummariser struct{}

var _ Summariser = ExtractiveSummariser{}

const summaryQuoteLen = 120

func (ExtractiveSummariser) Summarise(_ context.Context, messages []Message) (string, error) {
	var user []string
	for _, m := range messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			user = append(user, m.Content)
		}
	}
	if len(messages) == 0 {
		return "empty session", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d messages (%d from the user).", len(messages), len(user))
	switch len(user) {
	case 0:
	case 1:
		fmt.Fprintf(&b, " The user said: %q.", truncate(user[0], summaryQuoteLen))
	default:
		fmt.Fprintf(&b, " Opened with: %q. Last said: %q.",
			truncate(user[0], summaryQuoteLen), truncate(user[len(user)-1], summaryQuoteLen))
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
