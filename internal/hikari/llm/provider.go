// Package llm is Hikari's boundary with the language model. Provider turns a
// system prompt, prior turns and the user's text into a reply.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrQuota marks failures caused by exhausted quota or upstream rate limits.
// Callers tell the user a limit was reached instead of reporting a fault.
var ErrQuota = errors.New("llm: quota or rate limit reached")

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one prior turn given to the model.
type Message struct {
	// Role is "user", "assistant" or "system".
	Role    string
	Content string
}

// Request is the input to one generation call.
type Request struct {
	System   string
	History  []Message
	UserText string
}

// Usage reports token consumption for one call.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
	// Estimated is true when the provider reported no usage and the counts
	// were computed locally.
	Estimated bool
}

// Response is the model's reply.
type Response struct {
	Content        string
	Usage          Usage
	Model          string
	ProcessingTime time.Duration
}

// Provider generates replies. Implementations must be safe for concurrent use.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// quotaMarkers are substrings that identify quota-shaped failures in error
// text from providers that do not return structured errors.
var quotaMarkers = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"429",
	"insufficient",
	"limit reached",
	"too many requests",
}

// IsQuotaError reports whether err is a quota or rate-limit failure, either
// wrapping ErrQuota or carrying a quota marker in its message.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuota) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
