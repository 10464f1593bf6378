package llm

import (
	"context"

	"github.com/orchid219/relay/services/relay/conversation"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []conversation.Message, params GenerationParams) (string, error)
}

// StreamingChatClient is an LLMClient whose endpoints can stream
// incrementally. WithModel returns a client bound to a different model
// so one configured backend connection serves every model the relay
// exposes.
type StreamingChatClient interface {
	LLMClient
	ChatStream(ctx context.Context, messages []conversation.Message, params GenerationParams, callback StreamCallback) error
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error
	WithModel(model string) StreamingChatClient
	ListModels(ctx context.Context) ([]string, error)
}
