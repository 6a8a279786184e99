// Package config loads Hikari's configuration.
//
// Values are layered: built-in defaults, then an optional YAML file (checked
// against an embedded JSON Schema), then HIKARI_* environment variables.
// The merged result is checked by Validate before use.
package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/bdobrica/Hikari/common/redact"
)

// Config is the complete runtime configuration.
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix"`
	Store    StoreConfig    `yaml:"store"`
	Provider ProviderConfig `yaml:"provider"`
	Governor GovernorConfig `yaml:"governor"`
	Session  SessionConfig  `yaml:"session"`
	LongTerm LongTermConfig `yaml:"long_term"`
	Gate     GateConfig     `yaml:"gate"`
	Commands CommandsConfig `yaml:"commands"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// MatrixConfig holds the homeserver connection.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// DisplayName is stripped from the start of messages that address the
	// companion by name.
	DisplayName string `yaml:"display_name"`
	// Rooms are joined at startup.
	Rooms []string `yaml:"rooms"`
	// AutoJoin accepts every room invite.
	AutoJoin bool `yaml:"auto_join"`
	// Bots lists user IDs treated as bots in addition to senders of
	// m.notice messages.
	Bots []string `yaml:"bots"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// ProviderConfig configures the OpenAI-compatible language model endpoint.
type ProviderConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	// RequestsPerSecond paces outgoing calls across all users.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Persona           string  `yaml:"persona"`
	// SummariseSessions asks the model for archive summaries instead of the
	// built-in extractive summary.
	SummariseSessions bool `yaml:"summarise_sessions"`
}

// GovernorConfig configures the token budget, cooldowns and rate limits.
type GovernorConfig struct {
	DailyTokenLimit int `yaml:"daily_token_limit"`
	// LowWaterFraction of the daily limit below which a warning is logged.
	LowWaterFraction float64       `yaml:"low_water_fraction"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxPerMinute     int           `yaml:"max_per_minute"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	// PersistBudget keeps the budget in the document store across restarts.
	PersistBudget bool `yaml:"persist_budget"`
}

// SessionConfig configures short-term session memory.
type SessionConfig struct {
	MaxEntries    int           `yaml:"max_entries"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LongTermConfig configures durable per-user memory.
type LongTermConfig struct {
	MaxFacts         int           `yaml:"max_facts"`
	MaxPreferences   int           `yaml:"max_preferences"`
	MaxRelationships int           `yaml:"max_relationships"`
	ArchiveAfter     time.Duration `yaml:"archive_after"`
	MinRelevance     float64       `yaml:"min_relevance"`
	Weights          WeightsConfig `yaml:"weights"`
	// SweepSchedule is a cron expression (robfig/cron syntax, including
	// descriptors such as "@every 6h").
	SweepSchedule string `yaml:"sweep_schedule"`
	// NodeID identifies this process in generated item IDs (0-1023).
	NodeID int64 `yaml:"node_id"`
}

// WeightsConfig are the relevance-scoring weights. They must sum to 1.
type WeightsConfig struct {
	Recency    float64 `yaml:"recency"`
	Importance float64 `yaml:"importance"`
	Age        float64 `yaml:"age"`
}

// GateConfig configures the message gate.
type GateConfig struct {
	CommandPrefixes  []string `yaml:"command_prefixes"`
	CommandPattern   string   `yaml:"command_pattern"`
	MaxContentLength int      `yaml:"max_content_length"`
	BlockedTerms     []string `yaml:"blocked_terms"`
	AIReplyCap       int      `yaml:"ai_reply_cap"`
	AIReplyTrimTo    int      `yaml:"ai_reply_trim_to"`
}

// CommandsConfig configures the companion command router.
type CommandsConfig struct {
	Prefix string `yaml:"prefix"`
}

// HTTPConfig configures the health/status/metrics listener.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `yaml:"addr"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Matrix: MatrixConfig{
			DisplayName: "Hikari",
			AutoJoin:    true,
		},
		Store: StoreConfig{
			Backend:   "sqlite",
			Path:      "hikari.db",
			KeyPrefix: "hikari:",
		},
		Provider: ProviderConfig{
			Model:             "gpt-4o-mini",
			MaxTokens:         512,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			Persona:           "You are Hikari, a warm and curious chat companion. Keep replies short and conversational.",
		},
		Governor: GovernorConfig{
			DailyTokenLimit:  200_000,
			LowWaterFraction: 0.1,
			Cooldown:         3 * time.Second,
			MaxPerMinute:     10,
			SweepInterval:    60 * time.Second,
			PersistBudget:    true,
		},
		Session: SessionConfig{
			MaxEntries:    20,
			MaxAge:        24 * time.Hour,
			SweepInterval: 60 * time.Second,
		},
		LongTerm: LongTermConfig{
			MaxFacts:         15,
			MaxPreferences:   10,
			MaxRelationships: 5,
			ArchiveAfter:     30 * 24 * time.Hour,
			MinRelevance:     40,
			Weights:          WeightsConfig{Recency: 0.4, Importance: 0.4, Age: 0.2},
			SweepSchedule:    "@every 6h",
			NodeID:           1,
		},
		Gate: GateConfig{
			CommandPrefixes:  []string{"/", "!"},
			CommandPattern:   `^[/!][a-zA-Z]`,
			MaxContentLength: 2000,
			AIReplyCap:       1000,
			AIReplyTrimTo:    500,
		},
		Commands: CommandsConfig{Prefix: "!hikari"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports every problem found in c, joined into one error.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Matrix.Homeserver == "" {
		add("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		add("matrix.user_id is required")
	} else if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		add("matrix.user_id %q is not a Matrix user ID", c.Matrix.UserID)
	}
	if c.Matrix.AccessToken == "" {
		add("matrix.access_token is required")
	}

	switch c.Store.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			add("store.redis_addr is required for the redis backend")
		}
	default:
		add("store.backend %q must be sqlite, redis or memory", c.Store.Backend)
	}

	if c.Provider.APIKey == "" && c.Provider.BaseURL == "" {
		add("provider.api_key is required unless provider.base_url points at a local endpoint")
	}
	if c.Provider.Model == "" {
		add("provider.model is required")
	}
	if c.Provider.Timeout <= 0 {
		add("provider.timeout must be positive")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		add("provider.requests_per_second must be positive")
	}

	if c.Governor.DailyTokenLimit <= 0 {
		add("governor.daily_token_limit must be positive")
	}
	if c.Governor.LowWaterFraction < 0 || c.Governor.LowWaterFraction >= 1 {
		add("governor.low_water_fraction must be in [0, 1)")
	}
	if c.Governor.Cooldown < 0 {
		add("governor.cooldown must not be negative")
	}
	if c.Governor.MaxPerMinute <= 0 {
		add("governor.max_per_minute must be positive")
	}
	if c.Governor.SweepInterval <= 0 {
		add("governor.sweep_interval must be positive")
	}

	if c.Session.MaxEntries <= 0 {
		add("session.max_entries must be positive")
	}
	if c.Session.MaxAge <= 0 {
		add("session.max_age must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		add("session.sweep_interval must be positive")
	}

	lt := c.LongTerm
	if lt.MaxFacts <= 0 || lt.MaxPreferences <= 0 || lt.MaxRelationships <= 0 {
		add("long_term caps must be positive")
	}
	if lt.ArchiveAfter <= 0 {
		add("long_term.archive_after must be positive")
	}
	if lt.MinRelevance < 0 || lt.MinRelevance > 100 {
		add("long_term.min_relevance must be in [0, 100]")
	}
	w := lt.Weights
	if w.Recency < 0 || w.Importance < 0 || w.Age < 0 {
		add("long_term.weights must not be negative")
	}
	if sum := w.Recency + w.Importance + w.Age; math.Abs(sum-1) > 1e-6 {
		add("long_term.weights must sum to 1, got %.4f", sum)
	}
	if lt.SweepSchedule == "" {
		add("long_term.sweep_schedule is required")
	}
	if lt.NodeID < 0 || lt.NodeID > 1023 {
		add("long_term.node_id must be in [0, 1023]")
	}

	if _, err := regexp.Compile(c.Gate.CommandPattern); err != nil {
		add("gate.command_pattern: %v", err)
	}
	if c.Gate.MaxContentLength <= 0 {
		add("gate.max_content_length must be positive")
	}
	if c.Gate.AIReplyCap <= 0 || c.Gate.AIReplyTrimTo <= 0 || c.Gate.AIReplyTrimTo >= c.Gate.AIReplyCap {
		add("gate.ai_reply_trim_to must be positive and below gate.ai_reply_cap")
	}

	if c.Commands.Prefix == "" {
		add("commands.prefix is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format %q must be text or json", c.Log.Format)
	}

	return errors.Join(errs...)
}

// Redacted returns a flat view of the configuration that is safe to log.
func (c Config) Redacted() map[string]any {
	return redact.Map(map[string]any{
		"homeserver":        c.Matrix.Homeserver,
		"user_id":           c.Matrix.UserID,
		"access_token":      c.Matrix.AccessToken,
		"store_backend":     c.Store.Backend,
		"redis_password":    c.Store.RedisPassword,
		"provider_model":    c.Provider.Model,
		"provider_base_url": c.Provider.BaseURL,
		"provider_api_key":  c.Provider.APIKey,
		"daily_token_limit": c.Governor.DailyTokenLimit,
		"cooldown":          c.Governor.Cooldown.String(),
		"max_per_minute":    c.Governor.MaxPerMinute,
		"session_max_age":   c.Session.MaxAge.String(),
		"lt_sweep_schedule": c.LongTerm.SweepSchedule,
		"http_addr":         c.HTTP.Addr,
	})
}
