// Package commands parses and routes Hikari's prefixed chat commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultPrefix introduces every command.
const DefaultPrefix = "!hikari"

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers use errors.Is to tell this expected case from
// real failures.
var ErrNotACommand = errors.New("commands: not a command (missing prefix)")

// ErrUnknownCommand is returned by Route when no handler matches.
var ErrUnknownCommand = errors.New("commands: unknown command")

// Command is a parsed command.
type Command struct {
	Name string
	Args []string
	// Text is everything after the command name, whitespace preserved.
	Text  string
	Flags map[string]string
}

// Invocation identifies who issued a command and where.
type Invocation struct {
	UserID  string
	GroupID string
	EventID string
}

// Handler executes a command and returns the reply text.
type Handler func(ctx context.Context, cmd *Command, inv Invocation) (string, error)

// Router routes commands to handlers.
type Router struct {
	prefix   string
	handlers map[string]Handler
	usage    map[string]string
}

// NewRouter creates a router for prefix, falling back to DefaultPrefix.
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{
		prefix:   prefix,
		handlers: make(map[string]Handler),
		usage:    make(map[string]string),
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register registers a handler with a one-line usage string for help.
func (r *Router) Register(name, usage string, h Handler) {
	r.handlers[name] = h
	r.usage[name] = usage
}

// Parse parses text into a command.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}
	rest := strings.TrimPrefix(text, r.prefix)
	// "!hikarix" is not our command.
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n' {
		return nil, ErrNotACommand
	}
	rest = strings.TrimSpace(rest)

	cmd := &Command{Name: "help", Flags: make(map[string]string)}
	if rest == "" {
		return cmd, nil
	}

	name, tail, _ := strings.Cut(rest, " ")
	cmd.Name = strings.ToLower(name)
	cmd.Text = strings.TrimSpace(tail)

	parts := strings.Fields(cmd.Text)
	for i := 0; i < len(parts); i++ {
		part := parts[i]
		if strings.HasPrefix(part, "--") && len(part) > 2 {
			flag := strings.TrimPrefix(part, "--")
			if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
				cmd.Flags[flag] = parts[i+1]
				i++
			} else {
				cmd.Flags[flag] = "true"
			}
			continue
		}
		cmd.Args = append(cmd.Args, part)
	}
	return cmd, nil
}

// Route parses text and runs the matching handler. It returns the parsed
// command alongside the reply so callers can label the response.
func (r *Router) Route(ctx context.Context, text string, inv Invocation) (*Command, string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return nil, "", err
	}
	h, ok := r.handlers[cmd.Name]
	if !ok {
		return cmd, "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	reply, err := h(ctx, cmd, inv)
	return cmd, reply, err
}

// Help renders the usage of every registered command.
func (r *Router) Help() string {
	names := make([]string, 0, len(r.usage))
	for n := range r.usage {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		fmt.Fprintf(&b, "  %s %s", r.prefix, n)
		if u := r.usage[n]; u != "" {
			fmt.Fprintf(&b, " %s", u)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// GetFlag returns a flag value with a default.
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
