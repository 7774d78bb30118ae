package model

import (
	"context"
	"fmt"

	"docrag/types"
)

// Completion is a single prompt sent to a chat model.
type Completion struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// ChatModel turns a prompt into generated text.
type ChatModel interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// NewChatModel builds the chat model selected by cfg.Provider.
func NewChatModel(cfg types.LLMConfig) (ChatModel, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIChat(cfg), nil
	case "ollama":
		return NewOllamaChat(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
