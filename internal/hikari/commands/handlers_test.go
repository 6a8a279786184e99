package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Hikari/internal/hikari/commands"
	"github.com/bdobrica/Hikari/internal/hikari/docstore"
	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/memory"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

type fixture struct {
	router   *commands.Router
	gov      *governor.Governor
	sessions *memory.Sessions
	longTerm *memory.LongTerm
	inv      commands.Invocation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	lt, err := memory.NewLongTerm(memory.LongTermConfig{Store: store})
	if err != nil {
		t.Fatalf("NewLongTerm: %v", err)
	}
	f := &fixture{
		gov:      governor.New(governor.Config{DailyTokenLimit: 1000}),
		sessions: memory.NewSessions(memory.SessionConfig{Store: store}),
		longTerm: lt,
		inv:      commands.Invocation{UserID: "@alice:example.org", GroupID: "!room:example.org", EventID: "$cmd"},
	}
	h := &commands.Handlers{Governor: f.gov, Sessions: f.sessions, LongTerm: f.longTerm, Metrics: metrics.New()}
	f.router = h.NewRouter("")
	return f
}

func (f *fixture) run(t *testing.T, text string) (string, error) {
	t.Helper()
	_, reply, err := f.router.Route(context.Background(), text, f.inv)
	return reply, err
}

func TestHandleHelp(t *testing.T) {
	f := newFixture(t)
	reply, err := f.run(t, "!hikari")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"budget", "memory", "remember <text>", "prefer <topic> <value>", "forget [session|all]"} {
		if !strings.Contains(reply, name) {
			t.Errorf("help missing %q:\n%s", name, reply)
		}
	}
}

func TestHandleBudget(t *testing.T) {
	f := newFixture(t)
	f.gov.Charge(context.Background(), 250)
	reply, err := f.run(t, "!hikari budget")
	if err != nil {
		t.Fatalf("budget: %v", err)
	}
	for _, want := range []string{"Daily limit: 1000", "Used: 250", "Remaining: 750"} {
		if !strings.Contains(reply, want) {
			t.Errorf("budget reply missing %q:\n%s", want, reply)
		}
	}
}

func TestHandleRememberAndMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.run(t, "!hikari memory")
	if err != nil || !strings.Contains(reply, "don't remember anything") {
		t.Errorf("empty memory: got %q, %v", reply, err)
	}

	if reply, err = f.run(t, "!hikari remember I have a cat named Mochi"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !strings.Contains(reply, "remember") {
		t.Errorf("remember reply: %q", reply)
	}
	if reply, _ = f.run(t, "!hikari remember i have a cat named mochi"); !strings.Contains(reply, "already knew") {
		t.Errorf("duplicate remember reply: %q", reply)
	}
	if _, err = f.run(t, "!hikari prefer tea oolong, no sugar"); err != nil {
		t.Fatalf("prefer: %v", err)
	}

	f.sessions.Append(ctx, f.inv.UserID, memory.Message{Role: memory.RoleUser, Content: "hi"}, f.inv.GroupID)
	if !f.sessions.End(ctx, f.inv.UserID, f.inv.GroupID) {
		t.Fatal("End: expected a session to archive")
	}

	reply, err = f.run(t, "!hikari memory")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	for _, want := range []string{"I have a cat named Mochi (relevance 60)", "tea: oolong, no sugar", "Past conversations: " + time.Now().UTC().Format("2006-01-02")} {
		if !strings.Contains(reply, want) {
			t.Errorf("memory reply missing %q:\n%s", want, reply)
		}
	}
}

func TestHandleUsageErrors(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"!hikari remember", "!hikari prefer tea", "!hikari forget everything"} {
		if _, err := f.run(t, text); !errors.Is(err, commands.ErrUsage) {
			t.Errorf("%q: got %v, want ErrUsage", text, err)
		}
	}
}

func TestHandleForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sessions.Append(ctx, f.inv.UserID, memory.Message{Role: memory.RoleUser, Content: "secret"}, f.inv.GroupID)
	if _, err := f.longTerm.AddFact(ctx, f.inv.UserID, memory.FactInput{Content: "likes jazz"}); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	if _, err := f.run(t, "!hikari forget"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := f.sessions.Get(ctx, f.inv.UserID, f.inv.GroupID); ok {
		t.Error("session should be cleared")
	}
	if len(f.longTerm.Get(ctx, f.inv.UserID).Facts) != 1 {
		t.Error("forget session must keep long-term memory")
	}
	if h, _ := f.sessions.History(ctx, f.inv.UserID); len(h) != 0 {
		t.Errorf("forget session must not archive, got %v", h)
	}

	if _, err := f.run(t, "!hikari forget all"); err != nil {
		t.Fatalf("forget all: %v", err)
	}
	if len(f.longTerm.Get(ctx, f.inv.UserID).Facts) != 0 {
		t.Error("forget all should wipe long-term memory")
	}
}
