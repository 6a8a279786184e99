package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
)

var sessNow = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

func userMsg(s string) Message { return Message{Role: RoleUser, Content: s} }

func TestSessions_AppendCreatesSession(t *testing.T) {
	s := NewSessions(SessionConfig{Store: docstore.NewMemory()})
	ctx := context.Background()

	st := s.appendAt(ctx, alice, userMsg("hello"), "", sessNow)
	if st.ID == "" {
		t.Fatal("expected session ID")
	}
	if st.MessageCount != 1 || len(st.Messages) != 1 {
		t.Errorf("count/len = %d/%d, want 1/1", st.MessageCount, len(st.Messages))
	}
	if !st.StartTime.Equal(sessNow) || !st.Messages[0].Timestamp.Equal(sessNow) {
		t.Errorf("timestamps not set from now")
	}

	got, ok := s.getAt(ctx, alice, "", sessNow.Add(time.Minute))
	if !ok || got.ID != st.ID {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestSessions_GroupScoping(t *testing.T) {
	store := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: store})
	ctx := context.Background()

	s.appendAt(ctx, alice, userMsg("dm"), "", sessNow)
	s.appendAt(ctx, alice, userMsg("in room"), "!room:example.com", sessNow)

	dm, _ := s.getAt(ctx, alice, "", sessNow)
	room, _ := s.getAt(ctx, alice, "!room:example.com", sessNow)
	if dm.ID == room.ID {
		t.Fatal("group session must be separate from the direct session")
	}

	paths, _ := store.List(ctx, "memory/")
	want := "memory/@alice:example.com/sessions/groups/%21room:example.com/current"
	found := false
	for _, p := range paths {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Errorf("group session path %q not in %v", want, paths)
	}
}

func TestSessions_FIFOEviction(t *testing.T) {
	s := NewSessions(SessionConfig{MaxEntries: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.appendAt(ctx, alice, userMsg(fmt.Sprintf("m%d", i)), "", sessNow.Add(time.Duration(i)*time.Second))
	}
	st, _ := s.getAt(ctx, alice, "", sessNow.Add(time.Minute))
	var got []string
	for _, m := range st.Messages {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "m2,m3,m4" {
		t.Errorf("messages = %v, want m2,m3,m4", got)
	}
	if st.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want 5", st.MessageCount)
	}
}

func TestSessions_FIFOProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(rt, "cap")
		n := rapid.IntRange(1, 40).Draw(rt, "n")

		s := NewSessions(SessionConfig{MaxEntries: limit})
		ctx := context.Background()
		for i := 0; i < n; i++ {
			s.appendAt(ctx, alice, userMsg(fmt.Sprint(i)), "", sessNow)
		}
		st, ok := s.getAt(ctx, alice, "", sessNow)
		if !ok {
			rt.Fatal("session missing")
		}
		want := n
		if want > limit {
			want = limit
		}
		if len(st.Messages) != want {
			rt.Fatalf("len = %d, want %d", len(st.Messages), want)
		}
		for i, m := range st.Messages {
			if exp := fmt.Sprint(n - want + i); m.Content != exp {
				rt.Fatalf("message %d = %q, want %q", i, m.Content, exp)
			}
		}
	})
}

func TestSessions_ArchivalOnExpiry(t *testing.T) {
	store := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: store, MaxAge: 24 * time.Hour})
	ctx := context.Background()

	var first SessionState
	for i := 0; i < 7; i++ {
		first = s.appendAt(ctx, alice, userMsg(fmt.Sprintf("m%d", i)), "", sessNow)
	}

	later := sessNow.Add(25 * time.Hour)
	if _, ok := s.getAt(ctx, alice, "", later); ok {
		t.Fatal("expired session should be NOT_FOUND")
	}

	var rec ArchivedSession
	found, err := store.Get(ctx, historyPath(alice, "2026-02-24"), &rec)
	if err != nil || !found {
		t.Fatalf("archive not written: found=%v err=%v", found, err)
	}
	if rec.MessageCount != 7 {
		t.Errorf("archived MessageCount = %d, want 7", rec.MessageCount)
	}
	if rec.SessionID != first.ID {
		t.Errorf("archived SessionID = %q, want %q", rec.SessionID, first.ID)
	}

	var live SessionState
	if found, _ := store.Get(ctx, sessionPath(alice, ""), &live); found {
		t.Error("live record should be deleted after archival")
	}

	next := s.appendAt(ctx, alice, userMsg("back again"), "", later)
	if next.ID == first.ID {
		t.Error("append after archival must start a new session")
	}
	if next.MessageCount != 1 || len(next.Messages) != 1 {
		t.Errorf("new session count/len = %d/%d, want 1/1", next.MessageCount, len(next.Messages))
	}
}

func TestSessions_ExpiredOnLoadFromStore(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	writer := NewSessions(SessionConfig{Store: store})
	writer.appendAt(ctx, alice, userMsg("hi"), "", sessNow)

	// A fresh manager has an empty cache and must apply the expiry check to
	// what it loads.
	reader := NewSessions(SessionConfig{Store: store})
	if _, ok := reader.getAt(ctx, alice, "", sessNow.Add(time.Hour)); !ok {
		t.Fatal("unexpired session should load from store")
	}
	reader2 := NewSessions(SessionConfig{Store: store})
	if _, ok := reader2.getAt(ctx, alice, "", sessNow.Add(48*time.Hour)); ok {
		t.Fatal("expired stored session should be archived, not returned")
	}
	hist, err := reader2.History(ctx, alice)
	if err != nil || len(hist) != 1 {
		t.Fatalf("History = %v, %v", hist, err)
	}
}

func TestSessions_ArchiveFirstWriteWins(t *testing.T) {
	store := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: store})
	ctx := context.Background()

	s.appendAt(ctx, alice, userMsg("morning"), "", sessNow)
	s.End(ctx, alice, "")
	s.appendAt(ctx, alice, userMsg("evening"), "", sessNow.Add(8*time.Hour))
	s.appendAt(ctx, alice, userMsg("still evening"), "", sessNow.Add(8*time.Hour))
	s.End(ctx, alice, "")

	var rec ArchivedSession
	store.Get(ctx, historyPath(alice, "2026-02-24"), &rec)
	if rec.MessageCount != 1 {
		t.Errorf("archive MessageCount = %d, want 1 (first archive of the day)", rec.MessageCount)
	}
}

func TestSessions_ClearDoesNotArchive(t *testing.T) {
	store := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: store})
	ctx := context.Background()

	s.appendAt(ctx, alice, userMsg("secret"), "", sessNow)
	if err := s.Clear(ctx, alice, ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := s.getAt(ctx, alice, "", sessNow); ok {
		t.Error("session should be gone")
	}
	if hist, _ := s.History(ctx, alice); len(hist) != 0 {
		t.Errorf("Clear must not archive, got %v", hist)
	}
}

func TestSessions_EndWithoutSession(t *testing.T) {
	s := NewSessions(SessionConfig{})
	if s.End(context.Background(), alice, "") {
		t.Error("End should report false when no session is live")
	}
}

func TestSessions_SweepArchivesAndEvicts(t *testing.T) {
	store := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: store, MaxAge: time.Hour})
	ctx := context.Background()

	s.appendAt(ctx, alice, userMsg("old"), "", sessNow)
	s.appendAt(ctx, "@bob:example.com", userMsg("recent"), "", sessNow.Add(50*time.Minute))

	s.Sweep(ctx, sessNow.Add(90*time.Minute))

	if got := s.CachedSessions(); got != 1 {
		t.Errorf("CachedSessions = %d, want 1", got)
	}
	if hist, _ := s.History(ctx, alice); len(hist) != 1 {
		t.Errorf("alice should be archived by the sweep, got %v", hist)
	}
	if _, ok := s.getAt(ctx, "@bob:example.com", "", sessNow.Add(90*time.Minute)); !ok {
		t.Error("bob's session is still live")
	}
}

func TestSessions_StoreFailureKeepsCache(t *testing.T) {
	s := NewSessions(SessionConfig{Store: failingStore{}})
	ctx := context.Background()
	s.appendAt(ctx, alice, userMsg("hi"), "", sessNow)
	if _, ok := s.getAt(ctx, alice, "", sessNow); !ok {
		t.Fatal("cache should serve the session despite store failures")
	}
}

// historyDownStore fails writes under the history prefix and delegates the
// rest.
type historyDownStore struct {
	docstore.Store
}

func (s historyDownStore) Set(ctx context.Context, path string, v any) error {
	if strings.Contains(path, "/sessions/history/") {
		return errStoreDown
	}
	return s.Store.Set(ctx, path, v)
}

func TestSessions_FailedArchiveKeepsLiveRecord(t *testing.T) {
	mem := docstore.NewMemory()
	s := NewSessions(SessionConfig{Store: historyDownStore{Store: mem}, MaxAge: time.Hour})
	ctx := context.Background()

	s.appendAt(ctx, alice, userMsg("remember this"), "", sessNow)
	if _, ok := s.getAt(ctx, alice, "", sessNow.Add(2*time.Hour)); ok {
		t.Fatal("expired session should be NOT_FOUND")
	}

	var live SessionState
	found, err := mem.Get(ctx, sessionPath(alice, ""), &live)
	if err != nil || !found {
		t.Fatalf("live record removed after failed archive: found=%v err=%v", found, err)
	}
	if live.MessageCount != 1 {
		t.Errorf("live MessageCount = %d, want 1", live.MessageCount)
	}

	// Once the store recovers, the next load archives the retained record.
	retry := NewSessions(SessionConfig{Store: mem, MaxAge: time.Hour})
	if _, ok := retry.getAt(ctx, alice, "", sessNow.Add(3*time.Hour)); ok {
		t.Fatal("expired session should be NOT_FOUND")
	}
	hist, err := retry.History(ctx, alice)
	if err != nil || len(hist) != 1 {
		t.Fatalf("History = %v, %v; want the retried archive", hist, err)
	}
	if found, _ := mem.Get(ctx, sessionPath(alice, ""), &live); found {
		t.Error("live record should be deleted once archived")
	}
}

func TestExtractiveSummariser(t *testing.T) {
	sum, err := ExtractiveSummariser{}.Summarise(context.Background(), []Message{
		{Role: RoleUser, Content: "I just adopted a cat"},
		{Role: RoleAssistant, Content: "Congrats!"},
		{Role: RoleUser, Content: "Her name is Miso"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"3 messages", "2 from the user", "adopted a cat", "Miso"} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary %q missing %q", sum, want)
		}
	}
}
