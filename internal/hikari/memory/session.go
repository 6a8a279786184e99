package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hikari/internal/hikari/docstore"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// Defaults applied by NewSessions to zero-valued config fields.
const (
	DefaultSessionMaxEntries = 20
	DefaultSessionMaxAge     = 24 * time.Hour
)

// SessionState is the live conversation buffer for one (user, group).
type SessionState struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	GroupID           string    `json:"groupId,omitempty"`
	Messages          []Message `json:"messages"`
	StartTime         time.Time `json:"startTime"`
	LastInteractionAt time.Time `json:"lastInteractionAt"`
	// MessageCount counts every message ever appended, including evicted ones.
	MessageCount int    `json:"messageCount"`
	Summary      string `json:"summary,omitempty"`
}

func (s *SessionState) clone() SessionState {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// ArchivedSession is the permanent record of a finished session. There is at
// most one per user per calendar day; the first archive of a day wins.
type ArchivedSession struct {
	DateKey      string    `json:"dateKey"`
	SessionID    string    `json:"sessionId"`
	GroupID      string    `json:"groupId,omitempty"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"messageCount"`
	ArchivedAt   time.Time `json:"archivedAt"`
}

// SessionConfig configures a Sessions manager.
type SessionConfig struct {
	MaxEntries int
	MaxAge     time.Duration
	// Summariser produces archive summaries. Defaults to ExtractiveSummariser.
	Summariser Summariser

	Store   docstore.Store
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Sessions owns the session cache. Entries are locked individually so that
// store I/O for one user never blocks another.
type Sessions struct {
	maxEntries int
	maxAge     time.Duration
	summariser Summariser
	store      docstore.Store
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu    sync.Mutex
	cache map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	userID  string
	groupID string
	loaded  bool
	// dead marks an entry evicted from the cache; holders must re-fetch.
	dead  bool
	state *SessionState
}

// NewSessions returns a session manager. A nil store keeps sessions
// in-process only.
func NewSessions(cfg SessionConfig) *Sessions {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultSessionMaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSessionMaxAge
	}
	if cfg.Summariser == nil {
		cfg.Summariser = ExtractiveSummariser{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sessions{
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		summariser: cfg.Summariser,
		store:      cfg.Store,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		cache:      make(map[string]*sessionEntry),
	}
}

// sessionKey identifies a session in the cache.
func sessionKey(userID, groupID string) string {
	return userID + "|" + groupID
}

// lock returns the locked live entry for (userID, groupID), loading it from
// the store on first use.
func (s *Sessions) lock(ctx context.Context, userID, groupID string) *sessionEntry {
	key := sessionKey(userID, groupID)
	for {
		s.mu.Lock()
		e, ok := s.cache[key]
		if !ok {
			e = &sessionEntry{userID: userID, groupID: groupID}
			s.cache[key] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			e.state = s.load(ctx, userID, groupID)
			e.loaded = true
		}
		return e
	}
}

func (s *Sessions) load(ctx context.Context, userID, groupID string) *SessionState {
	if s.store == nil {
		return nil
	}
	var st SessionState
	found, err := s.store.Get(ctx, sessionPath(userID, groupID), &st)
	if err != nil {
		s.logger.Warn("memory: failed to load session, starting fresh",
			"user_id", userID, "group_id", groupID, "err", err)
		return nil
	}
	if !found {
		return nil
	}
	return &st
}

func (s *Sessions) expired(st *SessionState, now time.Time) bool {
	return now.Sub(st.LastInteractionAt) > s.maxAge
}

// Get returns the live session. An expired session is archived and removed,
// and reported as not found.
func (s *Sessions) Get(ctx context.Context, userID, groupID string) (SessionState, bool) {
	return s.getAt(ctx, userID, groupID, time.Now())
}

func (s *Sessions) getAt(ctx context.Context, userID, groupID string, now time.Time) (SessionState, bool) {
	e := s.lock(ctx, userID, groupID)
	defer e.mu.Unlock()

	if e.state == nil {
		return SessionState{}, false
	}
	if s.expired(e.state, now) {
		s.archiveLocked(ctx, e, "expired", now)
		return SessionState{}, false
	}
	return e.state.clone(), true
}

// Append adds msg to the (user, group) session, creating the session when
// none is live. The oldest messages are dropped beyond MaxEntries.
func (s *Sessions) Append(ctx context.Context, userID string, msg Message, groupID string) SessionState {
	return s.appendAt(ctx, userID, msg, groupID, time.Now())
}

func (s *Sessions) appendAt(ctx context.Context, userID string, msg Message, groupID string, now time.Time) SessionState {
	e := s.lock(ctx, userID, groupID)
	defer e.mu.Unlock()

	if e.state != nil && s.expired(e.state, now) {
		s.archiveLocked(ctx, e, "expired", now)
	}
	if e.state == nil {
		e.state = &SessionState{
			ID:        uuid.NewString(),
			UserID:    userID,
			GroupID:   groupID,
			StartTime: now,
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	st := e.state
	st.Messages = append(st.Messages, msg)
	st.MessageCount++
	st.LastInteractionAt = now
	if excess := len(st.Messages) - s.maxEntries; excess > 0 {
		st.Messages = append([]Message(nil), st.Messages[excess:]...)
	}

	if s.store != nil {
		if err := s.store.Set(ctx, sessionPath(userID, groupID), st); err != nil {
			s.logger.Warn("memory: failed to persist session",
				"user_id", userID, "group_id", groupID, "err", err)
		}
	}
	return st.clone()
}

// End archives and removes the session. It reports whether one was live.
func (s *Sessions) End(ctx context.Context, userID, groupID string) bool {
	e := s.lock(ctx, userID, groupID)
	defer e.mu.Unlock()
	if e.state == nil {
		return false
	}
	s.archiveLocked(ctx, e, "ended", time.Now())
	return true
}

// Clear removes the session without archiving it.
func (s *Sessions) Clear(ctx context.Context, userID, groupID string) error {
	e := s.lock(ctx, userID, groupID)
	defer e.mu.Unlock()
	e.state = nil
	if s.store == nil {
		return nil
	}
	if err := s.store.Remove(ctx, sessionPath(userID, groupID)); err != nil {
		return fmt.Errorf("memory: clear session %s: %w", userID, err)
	}
	return nil
}

// archiveLocked writes the day's archive record (unless one exists), deletes
// the live record and clears the entry. When the archive cannot be read or
// written the live record stays in the store so a later load retries the
// archive. Must be called with e.mu held.
func (s *Sessions) archiveLocked(ctx context.Context, e *sessionEntry, trigger string, now time.Time) {
	st := e.state
	e.state = nil
	s.metrics.SessionArchived(trigger)

	if s.store == nil {
		return
	}
	log := s.logger.With("user_id", st.UserID, "group_id", st.GroupID, "session_id", st.ID)

	dateKey := st.StartTime.UTC().Format(dateKeyLayout)
	path := historyPath(st.UserID, dateKey)

	var existing ArchivedSession
	found, err := s.store.Get(ctx, path, &existing)
	switch {
	case err != nil:
		log.Warn("memory: failed to check archive, keeping live session", "date_key", dateKey, "err", err)
		return
	case found:
		log.Debug("memory: archive for day already exists, keeping first", "date_key", dateKey)
	default:
		summary, err := s.summariser.Summarise(ctx, st.Messages)
		if err != nil {
			log.Warn("memory: summariser failed, using extractive summary", "err", err)
			summary, _ = ExtractiveSummariser{}.Summarise(ctx, st.Messages)
		}
		rec := ArchivedSession{
			DateKey:      dateKey,
			SessionID:    st.ID,
			GroupID:      st.GroupID,
			Summary:      summary,
			MessageCount: st.MessageCount,
			ArchivedAt:   now,
		}
		if err := s.store.Set(ctx, path, rec); err != nil {
			log.Warn("memory: failed to write archive, keeping live session", "date_key", dateKey, "err", err)
			return
		}
		log.Info("memory: session archived", "date_key", dateKey, "messages", st.MessageCount, "trigger", trigger)
	}

	if err := s.store.Remove(ctx, sessionPath(st.UserID, st.GroupID)); err != nil {
		log.Warn("memory: failed to remove archived session", "err", err)
	}
}

// History lists the user's archived sessions, oldest first.
func (s *Sessions) History(ctx context.Context, userID string) ([]ArchivedSession, error) {
	if s.store == nil {
		return nil, nil
	}
	paths, err := s.store.List(ctx, historyPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("memory: list history for %s: %w", userID, err)
	}
	out := make([]ArchivedSession, 0, len(paths))
	for _, p := range paths {
		var a ArchivedSession
		found, err := s.store.Get(ctx, p, &a)
		if err != nil {
			return nil, fmt.Errorf("memory: read %s: %w", p, err)
		}
		if found {
			out = append(out, a)
		}
	}
	return out, nil
}

// Sweep archives every cached session that has expired and evicts idle
// entries from the cache.
func (s *Sessions) Sweep(ctx context.Context, now time.Time) {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.cache))
	for _, e := range s.cache {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	archived := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.dead && e.state != nil && s.expired(e.state, now) {
			s.archiveLocked(ctx, e, "sweep", now)
			archived++
		}
		e.mu.Unlock()
	}

	evicted := 0
	s.mu.Lock()
	for k, e := range s.cache {
		if !e.mu.TryLock() {
			continue
		}
		if e.state == nil {
			e.dead = true
			delete(s.cache, k)
			evicted++
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	if archived > 0 || evicted > 0 {
		s.logger.Debug("memory: session sweep", "archived", archived, "evicted", evicted)
	}
}

// CachedSessions returns the number of cache entries.
func (s *Sessions) CachedSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
