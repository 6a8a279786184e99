package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/bdobrica/Hikari/internal/hikari/metrics"
)

// Defaults applied by NewOpenAI to zero-valued config fields.
const (
	DefaultModel             = "gpt-4o-mini"
	DefaultMaxTokens         = 512
	DefaultTimeout           = 60 * time.Second
	DefaultRequestsPerSecond = 2.0
)

// OpenAIConfig configures an OpenAI-compatible chat completion provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API root (e.g. a local OpenAI-compatible server).
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout bounds a single call, including time spent waiting for the limiter.
	Timeout time.Duration
	// RequestsPerSecond paces calls across all users; bursts of one second's
	// worth are allowed.
	RequestsPerSecond float64

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// OpenAI implements Provider with github.com/sashabaranov/go-openai.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	tokens    *TokenCounter
	metrics   *metrics.Collector
	logger    *slog.Logger
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI returns a provider for cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		tokens:    NewTokenCounter(cfg.Model),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Model returns the configured model name.
func (p *OpenAI) Model() string { return p.model }

// Tokens returns the provider's token counter.
func (p *OpenAI) Tokens() *TokenCounter { return p.tokens }

// Generate sends one chat completion request.
func (p *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		p.metrics.ProviderRequest(p.model, "error", time.Since(start), 0)
		return nil, fmt.Errorf("llm: wait for request slot: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		err = classify(err)
		status := "error"
		if errors.Is(err, ErrQuota) {
			status = "quota"
		}
		p.metrics.ProviderRequest(p.model, status, elapsed, 0)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		p.metrics.ProviderRequest(p.model, "error", elapsed, 0)
		return nil, ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	usage := Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	if usage.Total == 0 {
		usage = estimateUsage(p.tokens, req, content)
	}
	p.metrics.ProviderRequest(p.model, "ok", elapsed, usage.Total)
	p.logger.Debug("llm: completion",
		"model", resp.Model,
		"total_tokens", usage.Total,
		"estimated", usage.Estimated,
		"latency_ms", elapsed.Milliseconds(),
	)

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Response{Content: content, Usage: usage, Model: model, ProcessingTime: elapsed}, nil
}

// classify wraps quota-shaped API failures with ErrQuota.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.Type == "insufficient_quota" || code == "insufficient_quota" || code == "rate_limit_exceeded" {
			return fmt.Errorf("%w: %s", ErrQuota, apiErr.Message)
		}
		return fmt.Errorf("llm: api error (status %d): %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuota, err)
	}
	return fmt.Errorf("llm: request failed: %w", err)
}
