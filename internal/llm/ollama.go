package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-journal-backend/internal/common"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaProvider streams completions from a local Ollama server.
type OllamaProvider struct {
	config Config
	client *http.Client
}

// NewOllamaProvider creates a provider for config.BaseURL (default localhost:11434).
func NewOllamaProvider(config Config, httpClient *http.Client) *OllamaProvider {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaHost
	}
	if config.Model == "" {
		config.Model = defaultOllamaModel
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if httpClient == nil {
		// No overall timeout: a reply may stream for minutes.
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: config.Timeout,
			},
		}
	}
	return &OllamaProvider{config: config, client: httpClient}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string { return KindOllama }

// StreamChat implements Provider.
func (p *OllamaProvider) StreamChat(ctx context.Context, system string, turns []Turn) (<-chan StreamResponse, error) {
	msgs := make([]ollamaMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, ollamaMessage{Role: t.Role, Content: t.Content})
	}
	body := ollamaChatRequest{Model: p.config.Model, Messages: msgs, Stream: true}
	if p.config.Temperature != 0 || p.config.MaxTokens != 0 {
		body.Options = &ollamaOptions{Temperature: p.config.Temperature, NumPredict: p.config.MaxTokens}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", fromStatus(resp.StatusCode, nil), strings.TrimSpace(string(msg)))
	}

	out := make(chan StreamResponse)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				send(ctx, out, StreamResponse{Error: fmt.Errorf("%w: bad stream chunk: %v", common.ErrProvider, err)})
				return
			}
			if chunk.Error != "" {
				send(ctx, out, StreamResponse{Error: fmt.Errorf("%w: %s", common.ErrProvider, chunk.Error)})
				return
			}
			if chunk.Message.Content != "" {
				if !send(ctx, out, StreamResponse{Content: chunk.Message.Content}) {
					return
				}
			}
			if chunk.Done {
				send(ctx, out, StreamResponse{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, StreamResponse{Error: classify(err)})
			return
		}
		send(ctx, out, StreamResponse{Error: fmt.Errorf("%w: stream ended without done marker", common.ErrProvider)})
	}()
	return out, nil
}
