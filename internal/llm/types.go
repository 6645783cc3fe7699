// Package llm streams assistant replies from an AI model provider.
//
// A single Provider capability ("stream tokens for a system prompt plus a
// turn history") has one implementation per vendor. Which one serves the
// process is decided once at startup by Factory, never per request.
package llm

import (
	"context"
	"time"
)

// Provider kinds accepted by NewFactory.
const (
	KindOpenAI = "openai"
	KindOllama = "ollama"
)

// Turn is one message of the conversation sent to the model.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// StreamResponse is one chunk of a streamed reply. Exactly one of Content,
// Done or Error is meaningful; the channel is closed after Done or Error.
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

// Provider streams a model reply.
type Provider interface {
	// StreamChat starts a completion and returns a channel of chunks. The
	// upstream request is cancelled when ctx is.
	StreamChat(ctx context.Context, system string, turns []Turn) (<-chan StreamResponse, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}

// KeyValidator checks an API key against the provider and reports how many
// models the key can see.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) (modelsCount int, err error)
}

// Config selects and tunes a provider.
type Config struct {
	Kind        string // openai|ollama
	APIKey      string // shared fallback key (openai)
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // connection/header timeout for HTTP providers

	// ValidatorBaseURL is the OpenAI-compatible endpoint stored user keys are
	// checked against. Empty falls back to BaseURL for the openai kind and to
	// the public OpenAI API otherwise.
	ValidatorBaseURL string
}
