package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

// TokenCounter counts tokens with tiktoken and falls back to a character
// heuristic when the encoding cannot be loaded (the BPE ranks are fetched on
// first use unless TIKTOKEN_CACHE_DIR holds them).
type TokenCounter struct {
	load func() (*tiktoken.Tiktoken, error)

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for the given model name.
func NewTokenCounter(model string) *TokenCounter {
	return newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return enc, nil
		}
		return tiktoken.GetEncoding(fallbackEncoding)
	})
}

func newTokenCounter(load func() (*tiktoken.Tiktoken, error)) *TokenCounter {
	return &TokenCounter{load: load}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := c.load()
		if err != nil {
			slog.Warn("llm: tiktoken unavailable, using heuristic token counts", "err", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return HeuristicCount(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCount approximates tokens at four characters each, rounding up.
func HeuristicCount(text string) int {
	return (len(text) + 3) / 4
}

// estimateUsage fills Usage for a request/response pair from local counts.
func estimateUsage(c *TokenCounter, req Request, content string) Usage {
	const perMessageOverhead = 4
	prompt := c.Count(req.System) + c.Count(req.UserText) + 2*perMessageOverhead
	for _, m := range req.History {
		prompt += c.Count(m.Content) + perMessageOverhead
	}
	completion := c.Count(content)
	return Usage{Prompt: prompt, Completion: completion, Total: prompt + completion, Estimated: true}
}
