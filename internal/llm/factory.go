package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tbourn/go-journal-backend/internal/common"
)

// Factory builds the configured Provider for a request. The provider kind is
// fixed when the Factory is created.
type Factory struct {
	cfg        Config
	httpClient *http.Client
}

// NewFactory validates cfg.Kind and returns a Factory for it.
func NewFactory(cfg Config, httpClient *http.Client) (*Factory, error) {
	cfg.Kind = strings.ToLower(strings.TrimSpace(cfg.Kind))
	if cfg.Kind == "" {
		cfg.Kind = KindOpenAI
	}
	switch cfg.Kind {
	case KindOpenAI, KindOllama:
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrConfiguration, cfg.Kind)
	}
	return &Factory{cfg: cfg, httpClient: httpClient}, nil
}

// Kind returns the provider kind this factory builds.
func (f *Factory) Kind() string { return f.cfg.Kind }

// UsesAPIKey reports whether the provider authenticates with an API key, so
// callers know whether a user's vaulted key is relevant.
func (f *Factory) UsesAPIKey() bool { return f.cfg.Kind == KindOpenAI }

// Provider returns a provider. For key-based providers userKey wins over the
// shared key; with neither available it fails with common.ErrConfiguration.
func (f *Factory) Provider(userKey string) (Provider, error) {
	switch f.cfg.Kind {
	case KindOllama:
		return NewOllamaProvider(f.cfg, f.httpClient), nil
	default:
		key := strings.TrimSpace(userKey)
		if key == "" {
			key = strings.TrimSpace(f.cfg.APIKey)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: no API key available for %s", common.ErrConfiguration, f.cfg.Kind)
		}
		return NewOpenAIProvider(f.cfg, key, f.httpClient), nil
	}
}

// Validator returns a KeyValidator for stored user keys. Those are OpenAI
// keys whatever provider serves chat, so an Ollama BaseURL is never used.
func (f *Factory) Validator() KeyValidator {
	base := f.cfg.ValidatorBaseURL
	if base == "" && f.cfg.Kind == KindOpenAI {
		base = f.cfg.BaseURL
	}
	return OpenAIValidator{BaseURL: base, HTTPClient: f.httpClient}
}
