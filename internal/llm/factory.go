package llm

import (
	"fmt"
	"net/http"

	"memfuse/internal/config"
)

// NewProvider selects and constructs a Provider from LLM configuration.
// httpClient is optional; pass nil to use http.DefaultClient.
func NewProvider(cfg config.LLMConfig, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
