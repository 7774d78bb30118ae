package agent

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures how much of a model's context a text occupies.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter loads the cl100k_base encoding. tiktoken fetches the encoding
// on first use, so when that fails the estimate is used instead.
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken unavailable, estimating token counts", "err", err)
		return EstimateCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// truncateTokens shortens text until it fits into budget tokens.
func truncateTokens(counter TokenCounter, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	n := counter.Count(text)
	runes := []rune(text)
	for n > budget && len(runes) > 0 {
		keep := len(runes) * budget / n
		if keep >= len(runes) {
			keep = len(runes) - 1
		}
		runes = runes[:keep]
		n = counter.Count(string(runes))
	}
	return string(runes)
}
