package chat

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens is the cheap deterministic estimate stored on every
// message: one token per four characters, rounded up.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// TokenCounter counts tokens for request sizing.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter counts with EstimateTokens.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int { return EstimateTokens(text) }

// TiktokenCounter counts with a BPE tokenizer.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the encoding for model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns a tiktoken counter for model, or EstimateCounter when
// the encoding cannot be loaded (it is fetched on first use).
func NewCounter(model string) TokenCounter {
	if model == "" {
		return EstimateCounter{}
	}
	c, err := NewTiktokenCounter(model)
	if err != nil {
		slog.Warn("chat: tokenizer unavailable, using estimate", "model", model, "error", err)
		return EstimateCounter{}
	}
	return c
}
