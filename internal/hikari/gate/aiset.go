package gate

import "sync"

// Defaults for NewAIReplySet.
const (
	DefaultAIReplyCap    = 1000
	DefaultAIReplyTrimTo = 500
)

// AIReplySet remembers the IDs of replies the companion generated
// conversationally. When it grows past its cap it discards the oldest IDs
// until trimTo remain.
type AIReplySet struct {
	mu     sync.Mutex
	cap    int
	trimTo int
	ids    map[string]struct{}
	order  []string
}

// NewAIReplySet returns an empty set. Non-positive arguments fall back to the
// defaults; trimTo is clamped to cap.
func NewAIReplySet(cap, trimTo int) *AIReplySet {
	if cap <= 0 {
		cap = DefaultAIReplyCap
	}
	if trimTo <= 0 {
		trimTo = DefaultAIReplyTrimTo
	}
	if trimTo > cap {
		trimTo = cap
	}
	return &AIReplySet{
		cap:    cap,
		trimTo: trimTo,
		ids:    make(map[string]struct{}, cap+1),
	}
}

// Add records id. Adding an ID already present is a no-op.
func (s *AIReplySet) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) <= s.cap {
		return
	}
	drop := len(s.order) - s.trimTo
	for _, old := range s.order[:drop] {
		delete(s.ids, old)
	}
	s.order = append([]string(nil), s.order[drop:]...)
}

// Contains reports whether id was recorded and not yet trimmed.
func (s *AIReplySet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of tracked IDs.
func (s *AIReplySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
