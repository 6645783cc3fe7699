package llm

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// OpenAIProvider streams completions from the OpenAI chat API (or any
// compatible endpoint).
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a provider bound to apiKey.
func NewOpenAIProvider(config Config, apiKey string, httpClient *http.Client) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return KindOpenAI }

// StreamChat implements Provider.
func (p *OpenAIProvider) StreamChat(ctx context.Context, system string, turns []Turn) (<-chan StreamResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    msgs,
		MaxTokens:   p.config.MaxTokens,
		Temperature: float32(p.config.Temperature),
		Stream:      true,
	}

	// Open the stream synchronously so status errors surface before any
	// byte is written to the client.
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	out := make(chan StreamResponse)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, out, StreamResponse{Done: true})
				return
			}
			if err != nil {
				send(ctx, out, StreamResponse{Error: classify(err)})
				return
			}
			if len(resp.Choices) > 0 {
				if content := resp.Choices[0].Delta.Content; content != "" {
					if !send(ctx, out, StreamResponse{Content: content}) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// OpenAIValidator validates keys with the "list models" endpoint.
type OpenAIValidator struct {
	BaseURL    string
	HTTPClient *http.Client
}

// ValidateKey implements KeyValidator.
func (v OpenAIValidator) ValidateKey(ctx context.Context, apiKey string) (int, error) {
	cfg := openai.DefaultConfig(apiKey)
	if v.BaseURL != "" {
		cfg.BaseURL = v.BaseURL
	}
	if v.HTTPClient != nil {
		cfg.HTTPClient = v.HTTPClient
	}
	list, err := openai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return len(list.Models), nil
}

// send delivers r unless ctx is done first. It reports whether r was sent.
func send(ctx context.Context, ch chan<- StreamResponse, r StreamResponse) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
