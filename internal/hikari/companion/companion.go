// Package companion is the orchestrator: it routes commands, runs every
// other message through the gate, and for allowed messages calls the model,
// delivers the reply and records the exchange in both memory tiers and the
// governor.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Hikari/common/retry"
	"github.com/bdobrica/Hikari/common/trace"
	"github.com/bdobrica/Hikari/internal/hikari/commands"
	"github.com/bdobrica/Hikari/internal/hikari/gate"
	"github.com/bdobrica/Hikari/internal/hikari/governor"
	"github.com/bdobrica/Hikari/internal/hikari/llm"
	"github.com/bdobrica/Hikari/internal/hikari/memory"
	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// User-visible notices.
const (
	QuotaNotice   = "I've reached my usage limit for now. Please try again a little later."
	FailureNotice = "Sorry, something went wrong while I was thinking. Please try again."
)

// DefaultPersona opens every system prompt when none is configured.
const DefaultPersona = "You are Hikari, a warm and attentive chat companion. " +
	"Keep replies short and conversational."

// Transport delivers messages. *matrix.Client implements it.
type Transport interface {
	SendReply(ctx context.Context, roomID, replyTo, text string) (string, error)
	SendNotice(ctx context.Context, roomID, text string) (string, error)
	SendCommandResponse(ctx context.Context, roomID, replyTo, command, text string) (string, error)
	SetTyping(ctx context.Context, roomID string, typing bool) error
}

// Config wires a Companion.
type Config struct {
	Gate      *gate.Pipeline
	Commands  *commands.Router
	Governor  *governor.Governor
	Sessions  *memory.Sessions
	LongTerm  *memory.LongTerm
	Assembler *memory.Assembler
	Provider  llm.Provider
	Transport Transport

	Persona string
	// Delivery controls retries of outgoing sends. Zero uses
	// retry.DefaultConfig.
	Delivery retry.Config

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Companion handles inbound messages end to end.
type Companion struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Companion for cfg.
func New(cfg Config) *Companion {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery = retry.DefaultConfig
	}
	if cfg.Assembler == nil {
		cfg.Assembler = &memory.Assembler{Sessions: cfg.Sessions, LongTerm: cfg.LongTerm}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Companion{cfg: cfg, logger: cfg.Logger}
}

// HandleMessage processes one inbound message. It never returns an error:
// failures are logged or turned into notices.
func (c *Companion) HandleMessage(ctx context.Context, msg gate.Message) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := trace.Logger(ctx, c.logger).With("event_id", msg.ID, "user_id", msg.AuthorID, "group_id", msg.GroupID)

	// The transport flags the companion's own messages as bot-authored.
	if c.cfg.Commands != nil && !msg.AuthorIsBot {
		if c.handleCommand(ctx, log, msg) {
			return
		}
	}

	d := c.cfg.Gate.Evaluate(ctx, msg)
	if !d.Allowed() {
		return
	}
	log.Debug("companion: message allowed", "level", d.Level.String(), "reason", d.Reason)
	c.respond(ctx, log, msg, d.Content)
}

// handleCommand runs msg as a command. It reports false when msg does not
// carry the command prefix.
func (c *Companion) handleCommand(ctx context.Context, log *slog.Logger, msg gate.Message) bool {
	inv := commands.Invocation{UserID: msg.AuthorID, GroupID: msg.GroupID, EventID: msg.ID}
	cmd, reply, err := c.cfg.Commands.Route(ctx, msg.Content, inv)
	if errors.Is(err, commands.ErrNotACommand) {
		return false
	}

	name := "unknown"
	if cmd != nil {
		name = cmd.Name
	}
	switch {
	case errors.Is(err, commands.ErrUsage):
		reply = "Usage: " + c.cfg.Commands.Prefix() + " " + usageOf(err)
	case errors.Is(err, commands.ErrUnknownCommand):
		reply = fmt.Sprintf("I don't know that command. Try %s help.", c.cfg.Commands.Prefix())
	case err != nil:
		log.Error("companion: command failed", "command", name, "err", err)
		reply = "That command failed. Please try again."
	}
	if reply == "" {
		return true
	}

	// Command responses never enter the AI-reply set.
	err = retry.Do(ctx, c.cfg.Delivery, func() error {
		_, sendErr := c.cfg.Transport.SendCommandResponse(ctx, msg.GroupID, msg.ID, name, reply)
		return sendErr
	})
	if err != nil {
		log.Error("companion: failed to send command response", "command", name, "err", err)
	}
	return true
}

// usageOf extracts the text after "usage: " from a wrapped ErrUsage.
func usageOf(err error) string {
	const marker = "usage: "
	s := err.Error()
	if i := strings.LastIndex(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}

// respond performs one model round trip for an allowed message.
func (c *Companion) respond(ctx context.Context, log *slog.Logger, msg gate.Message, content string) {
	if err := c.cfg.Transport.SetTyping(ctx, msg.GroupID, true); err != nil {
		log.Debug("companion: typing indicator failed", "err", err)
	}
	defer func() {
		// The request context may already be done; clear typing regardless.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.cfg.Transport.SetTyping(stopCtx, msg.GroupID, false)
	}()

	pc := c.cfg.Assembler.Assemble(ctx, msg.AuthorID, msg.GroupID)
	req := llm.Request{
		System:   c.systemPrompt(pc),
		History:  toLLMHistory(pc.History),
		UserText: content,
	}

	resp, err := c.cfg.Provider.Generate(ctx, req)
	if err != nil {
		c.notifyFailure(ctx, log, msg, err)
		return
	}
	if resp.Content == "" {
		log.Warn("companion: provider returned empty content")
		return
	}

	var replyID string
	err = retry.Do(ctx, c.cfg.Delivery, func() error {
		id, sendErr := c.cfg.Transport.SendReply(ctx, msg.GroupID, msg.ID, resp.Content)
		replyID = id
		return sendErr
	})
	tokens := resp.Usage.Total
	if err != nil {
		// The tokens were spent even though the reply was lost.
		log.Error("companion: failed to deliver reply", "err", err)
		c.charge(ctx, tokens)
		return
	}

	c.cfg.Gate.AIReplies().Add(replyID)

	now := time.Now()
	c.cfg.Sessions.Append(ctx, msg.AuthorID, memory.Message{Role: memory.RoleUser, Content: content, Timestamp: now}, msg.GroupID)
	c.cfg.Sessions.Append(ctx, msg.AuthorID, memory.Message{Role: memory.RoleAssistant, Content: resp.Content, Timestamp: now}, msg.GroupID)
	c.cfg.LongTerm.UpdateStats(ctx, msg.AuthorID, 2, tokens, msg.GroupID)
	c.charge(ctx, tokens)

	log.Info("companion: replied",
		"reply_id", replyID,
		"tokens", tokens,
		"latency_ms", resp.ProcessingTime.Milliseconds(),
	)
}

func (c *Companion) charge(ctx context.Context, tokens int) {
	c.cfg.Governor.Charge(ctx, tokens)
	c.cfg.Metrics.BudgetRemaining(c.cfg.Governor.Snapshot().Remaining)
}

// notifyFailure tells the user the model call failed. Budget and memory are
// left untouched.
func (c *Companion) notifyFailure(ctx context.Context, log *slog.Logger, msg gate.Message, err error) {
	notice := FailureNotice
	if llm.IsQuotaError(err) {
		notice = QuotaNotice
		log.Warn("companion: provider quota reached", "err", err)
	} else {
		log.Error("companion: provider call failed", "err", err)
	}
	if _, sendErr := c.cfg.Transport.SendNotice(ctx, msg.GroupID, notice); sendErr != nil {
		log.Error("companion: failed to send notice", "err", sendErr)
	}
}

func (c *Companion) systemPrompt(pc memory.PromptContext) string {
	if pc.Profile == "" {
		return c.cfg.Persona
	}
	return c.cfg.Persona + "\n\nWhat you remember about this user:\n" + pc.Profile
}

func toLLMHistory(msgs []memory.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
