package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/memory"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// ErrUsage marks a malformed command; the message is shown to the user.
var ErrUsage = errors.New("usage")

// memoryListLimit bounds the facts shown by the memory command.
const memoryListLimit = 10

// Handlers implements the companion's commands.
type Handlers struct {
	Router   *Router
	Governor *governor.Governor
	Sessions *memory.Sessions
	LongTerm *memory.LongTerm
	Metrics  *metrics.Collector
}

// NewRouter returns a router with every command registered.
func (h *Handlers) NewRouter(prefix string) *Router {
	r := NewRouter(prefix)
	h.Router = r
	r.Register("help", "", h.instrument("help", h.HandleHelp))
	r.Register("budget", "", h.instrument("budget", h.HandleBudget))
	r.Register("memory", "", h.instrument("memory", h.HandleMemory))
	r.Register("remember", "<text>", h.instrument("remember", h.HandleRemember))
	r.Register("prefer", "<topic> <value>", h.instrument("prefer", h.HandlePrefer))
	r.Register("forget", "[session|all]", h.instrument("forget", h.HandleForget))
	return r
}

func (h *Handlers) instrument(name string, fn Handler) Handler {
	return func(ctx context.Context, cmd *Command, inv Invocation) (string, error) {
		reply, err := fn(ctx, cmd, inv)
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.Metrics.Command(name, status)
		return reply, err
	}
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(_ context.Context, _ *Command, _ Invocation) (string, error) {
	return h.Router.Help(), nil
}

// HandleBudget reports the shared token budget.
func (h *Handlers) HandleBudget(_ context.Context, _ *Command, _ Invocation) (string, error) {
	snap := h.Governor.Snapshot()
	return fmt.Sprintf("Daily limit: %d\nUsed: %d\nRemaining: %d\nResets in: %s",
		snap.DailyLimit, snap.Used, snap.Remaining,
		time.Until(snap.ResetAt).Round(time.Minute)), nil
}

// HandleMemory shows what is remembered about the caller.
func (h *Handlers) HandleMemory(ctx context.Context, _ *Command, inv Invocation) (string, error) {
	um := h.LongTerm.Get(ctx, inv.UserID)
	facts := h.LongTerm.TopFacts(ctx, inv.UserID, memoryListLimit)

	var b strings.Builder
	if len(facts) == 0 && len(um.Preferences) == 0 {
		b.WriteString("I don't remember anything about you yet.")
	}
	if len(facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "  - %s (relevance %.0f)\n", f.Content, f.Relevance)
		}
	}
	if len(um.Preferences) > 0 {
		prefs := make([]*memory.Preference, 0, len(um.Preferences))
		for _, p := range um.Preferences {
			prefs = append(prefs, p)
		}
		sort.Slice(prefs, func(i, j int) bool { return prefs[i].Topic < prefs[j].Topic })
		b.WriteString("Preferences:\n")
		for _, p := range prefs {
			fmt.Fprintf(&b, "  - %s: %s\n", p.Topic, p.Value)
		}
	}

	history, err := h.Sessions.History(ctx, inv.UserID)
	if err != nil {
		return "", fmt.Errorf("commands: memory history: %w", err)
	}
	if len(history) > 0 {
		days := make([]string, len(history))
		for i, a := range history {
			days[i] = a.DateKey
		}
		fmt.Fprintf(&b, "\nPast conversations: %s", strings.Join(days, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// HandleRemember stores a fact stated by the caller.
func (h *Handlers) HandleRemember(ctx context.Context, cmd *Command, inv Invocation) (string, error) {
	if cmd.Text == "" {
		return "", fmt.Errorf("%w: remember <text>", ErrUsage)
	}
	f, err := h.LongTerm.AddFact(ctx, inv.UserID, memory.FactInput{Content: cmd.Text, Source: "command"})
	if err != nil {
		return "", fmt.Errorf("commands: remember: %w", err)
	}
	if f.Confirmations > 0 {
		return fmt.Sprintf("I already knew that; I'm more sure of it now (relevance %.0f).", f.Relevance), nil
	}
	return "Got it, I'll remember that.", nil
}

// HandlePrefer stores a preference.
func (h *Handlers) HandlePrefer(ctx context.Context, cmd *Command, inv Invocation) (string, error) {
	topic, _ := cmd.GetArg(0)
	value := strings.TrimSpace(strings.TrimPrefix(cmd.Text, topic))
	if topic == "" || value == "" {
		return "", fmt.Errorf("%w: prefer <topic> <value>", ErrUsage)
	}
	if _, err := h.LongTerm.AddPreference(ctx, inv.UserID, topic, value); err != nil {
		return "", fmt.Errorf("commands: prefer: %w", err)
	}
	return fmt.Sprintf("Noted: %s → %s.", topic, value), nil
}

// HandleForget clears the current session, or with "all" everything
// remembered about the caller.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command, inv Invocation) (string, error) {
	scope, _ := cmd.GetArg(0)
	switch scope {
	case "", "session":
		if err := h.Sessions.Clear(ctx, inv.UserID, inv.GroupID); err != nil {
			return "", fmt.Errorf("commands: forget session: %w", err)
		}
		return "I've forgotten our current conversation.", nil
	case "all":
		if err := h.Sessions.Clear(ctx, inv.UserID, inv.GroupID); err != nil {
			return "", fmt.Errorf("commands: forget session: %w", err)
		}
		if err := h.LongTerm.Forget(ctx, inv.UserID); err != nil {
			return "", fmt.Errorf("commands: forget all: %w", err)
		}
		return "I've forgotten everything about you.", nil
	default:
		return "", fmt.Errorf("%w: forget [session|all]", ErrUsage)
	}
}
