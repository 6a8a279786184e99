package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every override variable.
const envPrefix = "HIKARI_"

// The helpers below read HIKARI_<name> and fall back to def when the variable
// is unset, empty or unparsable.

func envString(name, def string) string {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(envPrefix + name))
	if err != nil {
		return def
	}
	return b
}

func envInt(name string, def int) int {
	n, err := strconv.Atoi(os.Getenv(envPrefix + name))
	if err != nil {
		return def
	}
	return n
}

func envInt64(name string, def int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(envPrefix+name), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(envPrefix+name), 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(envPrefix + name))
	if err != nil {
		return def
	}
	return d
}

// envStrings parses a comma-separated list, trimming whitespace.
func envStrings(name string, def []string) []string {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// applyEnv overlays environment variables onto c.
func applyEnv(c *Config) {
	m := &c.Matrix
	m.Homeserver = envString("MATRIX_HOMESERVER", m.Homeserver)
	m.UserID = envString("MATRIX_USER_ID", m.UserID)
	m.AccessToken = envString("MATRIX_ACCESS_TOKEN", m.AccessToken)
	m.DisplayName = envString("MATRIX_DISPLAY_NAME", m.DisplayName)
	m.Rooms = envStrings("MATRIX_ROOMS", m.Rooms)
	m.AutoJoin = envBool("MATRIX_AUTO_JOIN", m.AutoJoin)
	m.Bots = envStrings("MATRIX_BOTS", m.Bots)

	s := &c.Store
	s.Backend = envString("STORE_BACKEND", s.Backend)
	s.Path = envString("STORE_PATH", s.Path)
	s.RedisAddr = envString("STORE_REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = envString("STORE_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = envInt("STORE_REDIS_DB", s.RedisDB)
	s.KeyPrefix = envString("STORE_KEY_PREFIX", s.KeyPrefix)

	p := &c.Provider
	p.APIKey = envString("PROVIDER_API_KEY", p.APIKey)
	p.BaseURL = envString("PROVIDER_BASE_URL", p.BaseURL)
	p.Model = envString("PROVIDER_MODEL", p.Model)
	p.MaxTokens = envInt("PROVIDER_MAX_TOKENS", p.MaxTokens)
	p.Timeout = envDuration("PROVIDER_TIMEOUT", p.Timeout)
	p.RequestsPerSecond = envFloat("PROVIDER_RPS", p.RequestsPerSecond)
	p.Persona = envString("PROVIDER_PERSONA", p.Persona)
	p.SummariseSessions = envBool("PROVIDER_SUMMARISE_SESSIONS", p.SummariseSessions)

	g := &c.Governor
	g.DailyTokenLimit = envInt("GOVERNOR_DAILY_TOKEN_LIMIT", g.DailyTokenLimit)
	g.LowWaterFraction = envFloat("GOVERNOR_LOW_WATER_FRACTION", g.LowWaterFraction)
	g.Cooldown = envDuration("GOVERNOR_COOLDOWN", g.Cooldown)
	g.MaxPerMinute = envInt("GOVERNOR_MAX_PER_MINUTE", g.MaxPerMinute)
	g.SweepInterval = envDuration("GOVERNOR_SWEEP_INTERVAL", g.SweepInterval)
	g.PersistBudget = envBool("GOVERNOR_PERSIST_BUDGET", g.PersistBudget)

	ss := &c.Session
	ss.MaxEntries = envInt("SESSION_MAX_ENTRIES", ss.MaxEntries)
	ss.MaxAge = envDuration("SESSION_MAX_AGE", ss.MaxAge)
	ss.SweepInterval = envDuration("SESSION_SWEEP_INTERVAL", ss.SweepInterval)

	lt := &c.LongTerm
	lt.MaxFacts = envInt("LTM_MAX_FACTS", lt.MaxFacts)
	lt.MaxPreferences = envInt("LTM_MAX_PREFERENCES", lt.MaxPreferences)
	lt.MaxRelationships = envInt("LTM_MAX_RELATIONSHIPS", lt.MaxRelationships)
	lt.ArchiveAfter = envDuration("LTM_ARCHIVE_AFTER", lt.ArchiveAfter)
	lt.MinRelevance = envFloat("LTM_MIN_RELEVANCE", lt.MinRelevance)
	lt.Weights.Recency = envFloat("LTM_WEIGHT_RECENCY", lt.Weights.Recency)
	lt.Weights.Importance = envFloat("LTM_WEIGHT_IMPORTANCE", lt.Weights.Importance)
	lt.Weights.Age = envFloat("LTM_WEIGHT_AGE", lt.Weights.Age)
	lt.SweepSchedule = envString("LTM_SWEEP_SCHEDULE", lt.SweepSchedule)
	lt.NodeID = envInt64("LTM_NODE_ID", lt.NodeID)

	gt := &c.Gate
	gt.CommandPrefixes = envStrings("GATE_COMMAND_PREFIXES", gt.CommandPrefixes)
	gt.CommandPattern = envString("GATE_COMMAND_PATTERN", gt.CommandPattern)
	gt.MaxContentLength = envInt("GATE_MAX_CONTENT_LENGTH", gt.MaxContentLength)
	gt.BlockedTerms = envStrings("GATE_BLOCKED_TERMS", gt.BlockedTerms)

	c.Commands.Prefix = envString("COMMANDS_PREFIX", c.Commands.Prefix)
	c.HTTP.Addr = envString("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}
