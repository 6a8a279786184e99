package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// Defaults applied by NewLongTerm to zero-valued config fields.
const (
	DefaultMaxFacts         = 15
	DefaultMaxPreferences   = 10
	DefaultMaxRelationships = 5
	DefaultArchiveAfter     = 30 * 24 * time.Hour
	DefaultMinRelevance     = 40.0
)

// ErrEmptyContent is returned when an item would carry no information.
var ErrEmptyContent = errors.New("memory: empty content")

// LongTermConfig configures a LongTerm store.
type LongTermConfig struct {
	MaxFacts         int
	MaxPreferences   int
	MaxRelationships int
	// ArchiveAfter and MinRelevance define the sweep: an item is removed only
	// when it is unused for longer than ArchiveAfter and its relevance is
	// below MinRelevance.
	ArchiveAfter time.Duration
	MinRelevance float64
	Weights      Weights
	// NodeID seeds the snowflake generator for item IDs.
	NodeID int64

	Store   docstore.Store
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// LongTerm owns the per-user long-term memory cache. Each user has an
// independent lock so operations on different users never wait on each other.
type LongTerm struct {
	cfg     LongTermConfig
	scorer  Scorer
	ids     *snowflake.Node
	store   docstore.Store
	logger  *slog.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	users map[string]*userEntry
}

type userEntry struct {
	mu     sync.Mutex
	loaded bool
	mem    *UserMemory
}

// NewLongTerm returns a LongTerm backed by cfg.Store. A nil store keeps
// memory in-process only.
func NewLongTerm(cfg LongTermConfig) (*LongTerm, error) {
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = DefaultMaxFacts
	}
	if cfg.MaxPreferences <= 0 {
		cfg.MaxPreferences = DefaultMaxPreferences
	}
	if cfg.MaxRelationships <= 0 {
		cfg.MaxRelationships = DefaultMaxRelationships
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = DefaultArchiveAfter
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("memory: create id generator: %w", err)
	}
	return &LongTerm{
		cfg:     cfg,
		scorer:  NewScorer(cfg.Weights),
		ids:     node,
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		users:   make(map[string]*userEntry),
	}, nil
}

// Scorer returns the scorer used for ranking.
func (lt *LongTerm) Scorer() Scorer { return lt.scorer }

func (lt *LongTerm) entry(userID string) *userEntry {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e, ok := lt.users[userID]
	if !ok {
		e = &userEntry{}
		lt.users[userID] = e
	}
	return e
}

// withUser locks the user's entry, loading it from the store on first use,
// and runs fn. When fn reports a change the aggregate is persisted before
// withUser returns.
func (lt *LongTerm) withUser(ctx context.Context, userID string, fn func(um *UserMemory) bool) {
	e := lt.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		e.mem = lt.load(ctx, userID)
		e.loaded = true
	}
	if fn(e.mem) {
		lt.persist(ctx, userID, e.mem)
	}
}

// load reads the aggregate from the store. Any failure yields an empty memory.
func (lt *LongTerm) load(ctx context.Context, userID string) *UserMemory {
	um := newUserMemory(userID)
	if lt.store == nil {
		return um
	}
	var stored UserMemory
	found, err := lt.store.Get(ctx, longTermPath(userID), &stored)
	if err != nil {
		lt.logger.Warn("memory: failed to load long-term memory, starting empty",
			"user_id", userID, "err", err)
		return um
	}
	if !found {
		return um
	}
	stored.normalize()
	if stored.Profile.UserID == "" {
		stored.Profile.UserID = userID
	}
	return &stored
}

func (lt *LongTerm) persist(ctx context.Context, userID string, um *UserMemory) {
	if lt.store == nil {
		return
	}
	if err := lt.store.Set(ctx, longTermPath(userID), um); err != nil {
		lt.logger.Warn("memory: failed to persist long-term memory",
			"user_id", userID, "err", err)
	}
}

func (lt *LongTerm) nextID() string {
	return lt.ids.Generate().String()
}

func touchProfile(um *UserMemory, now time.Time) {
	if um.Profile.FirstSeen.IsZero() {
		um.Profile.FirstSeen = now
	}
}

// FactInput describes a fact to remember.
type FactInput struct {
	Content  string
	Category string
	Source   string
}

// AddFact stores a new fact. A fact whose content matches an existing one
// (case-insensitively) reinforces that fact instead of duplicating it.
func (lt *LongTerm) AddFact(ctx context.Context, userID string, in FactInput) (Fact, error) {
	return lt.addFactAt(ctx, userID, in, time.Now())
}

func (lt *LongTerm) addFactAt(ctx context.Context, userID string, in FactInput, now time.Time) (Fact, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Fact{}, ErrEmptyContent
	}

	var out Fact
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		touchProfile(um, now)
		for _, f := range um.Facts {
			if strings.EqualFold(f.Content, content) {
				reinforce(f, now)
				out = *f
				return true
			}
		}

		f := &Fact{
			Item:     newItem(lt.nextID(), now),
			Content:  content,
			Category: in.Category,
			Source:   in.Source,
		}
		um.Facts[f.ID] = f
		out = *f
		if n := prune(lt.scorer, um.Facts, lt.cfg.MaxFacts, now); n > 0 {
			lt.metrics.ItemsPruned("facts", "cap", n)
			lt.logger.Debug("memory: pruned facts over cap", "user_id", userID, "dropped", n)
		}
		return true
	})
	return out, nil
}

// AddPreference stores a preference. A preference for a topic the user
// already has replaces its value and refreshes it, keeping its relevance.
func (lt *LongTerm) AddPreference(ctx context.Context, userID, topic, value string) (Preference, error) {
	return lt.addPreferenceAt(ctx, userID, topic, value, time.Now())
}

func (lt *LongTerm) addPreferenceAt(ctx context.Context, userID, topic, value string, now time.Time) (Preference, error) {
	topic, value = strings.TrimSpace(topic), strings.TrimSpace(value)
	if topic == "" || value == "" {
		return Preference{}, ErrEmptyContent
	}

	var out Preference
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		touchProfile(um, now)
		for _, p := range um.Preferences {
			if strings.EqualFold(p.Topic, topic) {
				p.Value = value
				p.LastUsedAt = now
				out = *p
				return true
			}
		}

		p := &Preference{Item: newItem(lt.nextID(), now), Topic: topic, Value: value}
		um.Preferences[p.ID] = p
		out = *p
		if n := prune(lt.scorer, um.Preferences, lt.cfg.MaxPreferences, now); n > 0 {
			lt.metrics.ItemsPruned("preferences", "cap", n)
		}
		return true
	})
	return out, nil
}

// AddRelationship records how userID relates to targetUserID. An existing
// relationship with the same target is refreshed and keeps its relevance.
func (lt *LongTerm) AddRelationship(ctx context.Context, userID, targetUserID, kind, note string) (Relationship, error) {
	return lt.addRelationshipAt(ctx, userID, targetUserID, kind, note, time.Now())
}

func (lt *LongTerm) addRelationshipAt(ctx context.Context, userID, targetUserID, kind, note string, now time.Time) (Relationship, error) {
	if strings.TrimSpace(targetUserID) == "" {
		return Relationship{}, ErrEmptyContent
	}

	var out Relationship
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		touchProfile(um, now)
		if r, ok := um.Relationships[targetUserID]; ok {
			if kind != "" {
				r.Kind = kind
			}
			if note != "" {
				r.Note = note
			}
			r.LastUsedAt = now
			out = *r
			return true
		}

		r := &Relationship{Item: newItem(lt.nextID(), now), TargetUserID: targetUserID, Kind: kind, Note: note}
		um.Relationships[targetUserID] = r
		out = *r
		if n := prune(lt.scorer, um.Relationships, lt.cfg.MaxRelationships, now); n > 0 {
			lt.metrics.ItemsPruned("relationships", "cap", n)
		}
		return true
	})
	return out, nil
}

func reinforce(f *Fact, now time.Time) {
	f.Relevance += ReinforceIncrement
	if f.Relevance > MaxRelevance {
		f.Relevance = MaxRelevance
	}
	f.Confirmations++
	f.LastUsedAt = now
}

// Reinforce raises a fact's relevance by 10 (capped at 100), counts a
// confirmation and refreshes its last use. It reports whether the fact
// exists; an unknown ID changes nothing.
func (lt *LongTerm) Reinforce(ctx context.Context, userID, factID string) bool {
	return lt.reinforceAt(ctx, userID, factID, time.Now())
}

func (lt *LongTerm) reinforceAt(ctx context.Context, userID, factID string, now time.Time) bool {
	found := false
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		f, ok := um.Facts[factID]
		if !ok {
			return false
		}
		reinforce(f, now)
		found = true
		return true
	})
	return found
}

// UpdateStats adds to the user's message and token counters and to the
// group's activity (when groupID is set). Profile.LastInteraction is always
// refreshed.
func (lt *LongTerm) UpdateStats(ctx context.Context, userID string, messageDelta, tokenDelta int, groupID string) {
	lt.updateStatsAt(ctx, userID, messageDelta, tokenDelta, groupID, time.Now())
}

func (lt *LongTerm) updateStatsAt(ctx context.Context, userID string, messageDelta, tokenDelta int, groupID string, now time.Time) {
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		touchProfile(um, now)
		um.Profile.LastInteraction = now
		um.Stats.TotalMessages += messageDelta
		um.Stats.TotalTokens += tokenDelta
		if groupID != "" {
			ga, ok := um.Stats.Groups[groupID]
			if !ok {
				ga = &GroupActivity{}
				um.Stats.Groups[groupID] = ga
			}
			ga.Messages += messageDelta
			ga.LastActive = now
		}
		return true
	})
}

// Get returns a copy of the user's memory. An unknown user yields an empty
// aggregate that is not persisted.
func (lt *LongTerm) Get(ctx context.Context, userID string) UserMemory {
	var out UserMemory
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		out = um.clone()
		return false
	})
	return out
}

// TopFacts returns up to n facts, best ranked first.
func (lt *LongTerm) TopFacts(ctx context.Context, userID string, n int) []Fact {
	return lt.topFactsAt(ctx, userID, n, time.Now())
}

func (lt *LongTerm) topFactsAt(ctx context.Context, userID string, n int, now time.Time) []Fact {
	var out []Fact
	lt.withUser(ctx, userID, func(um *UserMemory) bool {
		for _, k := range rank(lt.scorer, um.Facts, now) {
			if len(out) == n {
				break
			}
			out = append(out, *um.Facts[k])
		}
		return false
	})
	return out
}

// Forget erases everything stored about the user.
func (lt *LongTerm) Forget(ctx context.Context, userID string) error {
	e := lt.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mem = newUserMemory(userID)
	e.loaded = true
	if lt.store == nil {
		return nil
	}
	if err := lt.store.Remove(ctx, longTermPath(userID)); err != nil {
		return fmt.Errorf("memory: forget %s: %w", userID, err)
	}
	return nil
}

// CachedUsers returns the number of users held in memory.
func (lt *LongTerm) CachedUsers() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.users)
}

// Sweep removes, for every cached user, the items that are both unused for
// longer than ArchiveAfter and below MinRelevance. Items meeting only one of
// the two conditions are kept.
func (lt *LongTerm) Sweep(ctx context.Context, now time.Time) {
	lt.mu.Lock()
	ids := make([]string, 0, len(lt.users))
	for id := range lt.users {
		ids = append(ids, id)
	}
	lt.mu.Unlock()

	total := 0
	for _, id := range ids {
		lt.withUser(ctx, id, func(um *UserMemory) bool {
			f := sweepItems(um.Facts, lt.sweepable, now)
			p := sweepItems(um.Preferences, lt.sweepable, now)
			r := sweepItems(um.Relationships, lt.sweepable, now)
			lt.metrics.ItemsPruned("facts", "sweep", f)
			lt.metrics.ItemsPruned("preferences", "sweep", p)
			lt.metrics.ItemsPruned("relationships", "sweep", r)
			total += f + p + r
			return f+p+r > 0
		})
	}
	if total > 0 {
		lt.logger.Info("memory: long-term sweep removed stale items", "removed", total, "users", len(ids))
	}
}

func (lt *LongTerm) sweepable(it *Item, now time.Time) bool {
	stale := now.Sub(it.LastUsedAt) > lt.cfg.ArchiveAfter
	return stale && it.Relevance < lt.cfg.MinRelevance
}

func sweepItems[T scored](m map[string]T, drop func(*Item, time.Time) bool, now time.Time) int {
	n := 0
	for k, v := range m {
		if drop(v.base(), now) {
			delete(m, k)
			n++
		}
	}
	return n
}
