package memory

import "time"

// Relevance bounds and adjustments.
const (
	InitialRelevance   = 50.0
	ReinforceIncrement = 10.0
	MaxRelevance       = 100.0
)

// Item is the shape shared by every long-term memory entry. Relevance only
// rises, through reinforcement.
type Item struct {
	ID         string    `json:"id"`
	Relevance  float64   `json:"relevance"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (i *Item) base() *Item { return i }

func newItem(id string, now time.Time) Item {
	return Item{ID: id, Relevance: InitialRelevance, LastUsedAt: now, CreatedAt: now}
}

// Fact is something the user has stated about themselves or the world.
type Fact struct {
	Item
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	// Source records where the fact came from, e.g. "command" or "conversation".
	Source        string `json:"source,omitempty"`
	Confirmations int    `json:"confirmations"`
}

// Preference is a user's stated like or setting for a topic.
type Preference struct {
	Item
	Topic string `json:"topic"`
	Value string `json:"value"`
}

// Relationship describes how the user relates to another user.
type Relationship struct {
	Item
	TargetUserID string `json:"targetUserId"`
	Kind         string `json:"kind,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Profile identifies the user and tracks first and last contact.
type Profile struct {
	UserID          string    `json:"userId"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// GroupActivity is per-group message activity.
type GroupActivity struct {
	Messages   int       `json:"messages"`
	LastActive time.Time `json:"lastActive"`
}

// Stats accumulates usage counters.
type Stats struct {
	TotalMessages int                       `json:"totalMessages"`
	TotalTokens   int                       `json:"totalTokens"`
	Groups        map[string]*GroupActivity `json:"groups"`
}

// UserMemory is the long-term aggregate for one user. Relationships are keyed
// by the target user's ID; the other maps are keyed by item ID.
type UserMemory struct {
	Profile       Profile                  `json:"profile"`
	Facts         map[string]*Fact         `json:"facts"`
	Preferences   map[string]*Preference   `json:"preferences"`
	Relationships map[string]*Relationship `json:"relationships"`
	Stats         Stats                    `json:"stats"`
}

func newUserMemory(userID string) *UserMemory {
	um := &UserMemory{Profile: Profile{UserID: userID}}
	um.normalize()
	return um
}

// normalize fills nil maps left by decoding an older or partial document.
func (um *UserMemory) normalize() {
	if um.Facts == nil {
		um.Facts = make(map[string]*Fact)
	}
	if um.Preferences == nil {
		um.Preferences = make(map[string]*Preference)
	}
	if um.Relationships == nil {
		um.Relationships = make(map[string]*Relationship)
	}
	if um.Stats.Groups == nil {
		um.Stats.Groups = make(map[string]*GroupActivity)
	}
}

// clone returns a deep copy so callers cannot mutate cached state.
func (um *UserMemory) clone() UserMemory {
	out := UserMemory{
		Profile:       um.Profile,
		Facts:         make(map[string]*Fact, len(um.Facts)),
		Preferences:   make(map[string]*Preference, len(um.Preferences)),
		Relationships: make(map[string]*Relationship, len(um.Relationships)),
		Stats: Stats{
			TotalMessages: um.Stats.TotalMessages,
			TotalTokens:   um.Stats.TotalTokens,
			Groups:        make(map[string]*GroupActivity, len(um.Stats.Groups)),
		},
	}
	for k, v := range um.Facts {
		c := *v
		out.Facts[k] = &c
	}
	for k, v := range um.Preferences {
		c := *v
		out.Preferences[k] = &c
	}
	for k, v := range um.Relationships {
		c := *v
		out.Relationships[k] = &c
	}
	for k, v := range um.Stats.Groups {
		c := *v
		out.Stats.Groups[k] = &c
	}
	return out
}
