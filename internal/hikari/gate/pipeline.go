package gate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// DefaultCommandPattern matches text that looks like a command for some bot:
// a slash or bang followed by a letter. Sigils such as '.', '?' and '$' are
// left out since ordinary sentences start with them (".NET", "?why").
const DefaultCommandPattern = `^[/!][a-zA-Z]`

// CommandFooterPrefix starts the last line of every command response the
// companion sends.
const CommandFooterPrefix = "hikari ·"

// DefaultCommandPrefixes are checked at the BASIC level.
var DefaultCommandPrefixes = []string{"/", "!"}

// Governor is the subset of *governor.Governor the gate needs. Admit checks
// and records in one step; RecordInteraction covers allows that skip the
// resource checks.
type Governor interface {
	Admit(userID, groupID string) governor.Verdict
	RecordInteraction(userID, groupID string)
}

var _ Governor = (*governor.Governor)(nil)

// Config configures a Pipeline.
type Config struct {
	// CompanionID is the companion's own user ID.
	CompanionID string
	// DisplayName is stripped from the start of messages.
	DisplayName string

	CommandPrefixes []string
	// CommandPattern is a regular expression applied to mention-stripped
	// text at the CONTEXT level.
	CommandPattern string
	Content        ContentFilter

	Fetcher   Fetcher
	Governor  Governor
	AIReplies *AIReplySet

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Pipeline runs the three gate levels.
type Pipeline struct {
	companionID string
	prefixes    []string
	pattern     *regexp.Regexp
	strip       *Stripper
	content     ContentFilter
	fetcher     Fetcher
	gov         Governor
	aiReplies   *AIReplySet
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// New compiles cfg into a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.CompanionID == "" {
		return nil, fmt.Errorf("gate: companion ID is required")
	}
	if cfg.CommandPrefixes == nil {
		cfg.CommandPrefixes = DefaultCommandPrefixes
	}
	if cfg.CommandPattern == "" {
		cfg.CommandPattern = DefaultCommandPattern
	}
	pattern, err := regexp.Compile(cfg.CommandPattern)
	if err != nil {
		return nil, fmt.Errorf("gate: compile command pattern: %w", err)
	}
	if cfg.AIReplies == nil {
		cfg.AIReplies = NewAIReplySet(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		companionID: cfg.CompanionID,
		prefixes:    cfg.CommandPrefixes,
		pattern:     pattern,
		strip:       NewStripper(cfg.CompanionID, cfg.DisplayName),
		content:     cfg.Content,
		fetcher:     cfg.Fetcher,
		gov:         cfg.Governor,
		aiReplies:   cfg.AIReplies,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// AIReplies returns the set of conversational reply IDs.
func (p *Pipeline) AIReplies() *AIReplySet { return p.aiReplies }

// Strip removes companion mentions from content.
func (p *Pipeline) Strip(content string) string { return p.strip.Strip(content) }

// Evaluate runs msg through all levels. Any ALLOW records the interaction
// with the governor: ADVANCED allows are recorded by Admit, earlier ones
// here.
func (p *Pipeline) Evaluate(ctx context.Context, msg Message) Decision {
	d := p.evaluate(ctx, msg)
	p.metrics.GateDecision(d.Level.String(), d.Result.String())

	if d.Allowed() {
		if d.Content == "" {
			d.Content = p.strip.Strip(msg.Content)
		}
		if p.gov != nil && d.Level != LevelAdvanced {
			p.gov.RecordInteraction(msg.AuthorID, msg.GroupID)
		}
		return d
	}
	p.logger.Debug("gate: message blocked",
		"event_id", msg.ID,
		"user_id", msg.AuthorID,
		"group_id", msg.GroupID,
		"level", d.Level.String(),
		"reason", d.Reason,
	)
	return d
}

func (p *Pipeline) evaluate(ctx context.Context, msg Message) Decision {
	if d := p.Basic(msg); d.Result != Analyze {
		return d
	}
	if d := p.Context(ctx, msg); d.Result != Analyze {
		return d
	}
	return p.Advanced(msg)
}

// Basic applies the structural checks.
func (p *Pipeline) Basic(msg Message) Decision {
	if msg.AuthorID == p.companionID || msg.AuthorIsBot {
		return block(LevelBasic, ReasonBotMessage)
	}
	if msg.IsCommand || p.hasCommandPrefix(msg.Content) {
		return block(LevelBasic, ReasonCommand)
	}
	if !msg.Direct && !msg.MentionsCompanion && !msg.IsReply() {
		return block(LevelBasic, ReasonNotAddressed)
	}
	return analyze(LevelBasic, "structural checks passed")
}

func (p *Pipeline) hasCommandPrefix(content string) bool {
	trimmed := strings.TrimSpace(content)
	for _, prefix := range p.prefixes {
		if prefix != "" && strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Context applies the command-pattern and reply-chain checks. It performs at
// most one reference lookup; a failed lookup yields ANALYZE.
func (p *Pipeline) Context(ctx context.Context, msg Message) Decision {
	if p.pattern.MatchString(p.strip.Strip(msg.Content)) {
		return block(LevelContext, ReasonCommandPattern)
	}
	if !msg.IsReply() {
		return analyze(LevelContext, "not a reply")
	}
	if p.fetcher == nil {
		return analyze(LevelContext, ReasonLookupFailed)
	}

	ref, err := p.fetcher.FetchReference(ctx, msg.GroupID, msg.ReplyToID)
	if err != nil || ref == nil {
		p.logger.Warn("gate: reference lookup failed",
			"event_id", msg.ID,
			"reply_to", msg.ReplyToID,
			"group_id", msg.GroupID,
			"err", err,
		)
		return analyze(LevelContext, ReasonLookupFailed)
	}
	return p.classifyReference(ref)
}

func (p *Pipeline) classifyReference(ref *Reference) Decision {
	if ref.AuthorID != p.companionID {
		return block(LevelContext, ReasonReplyToOther)
	}
	if p.aiReplies.Contains(ref.ID) {
		return allow(LevelContext, ReasonReplyToAI)
	}
	if looksLikeCommandResponse(ref) {
		return block(LevelContext, ReasonReplyToCommand)
	}
	return block(LevelContext, ReasonUnidentifiedBot)
}

// looksLikeCommandResponse is a heuristic; a command response without any
// marker is classified as an unidentified bot message.
func looksLikeCommandResponse(ref *Reference) bool {
	if ref.CommandMarker || ref.HasAttachments || ref.HasComponents || len(ref.Fields) > 0 {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(ref.Footer), CommandFooterPrefix)
}

// Advanced applies the content policy and then admits the message through
// the governor, which records the interaction when it allows.
func (p *Pipeline) Advanced(msg Message) Decision {
	text := p.strip.Strip(msg.Content)
	if reason := p.content.Check(text); reason != "" {
		return block(LevelAdvanced, reason)
	}
	if p.gov != nil {
		if v := p.gov.Admit(msg.AuthorID, msg.GroupID); !v.Allowed {
			return block(LevelAdvanced, v.Reason)
		}
	}
	d := allow(LevelAdvanced, ReasonPassed)
	d.Content = text
	return d
}
