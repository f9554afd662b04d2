package reasoning

import (
	"fmt"
	"strings"

	"kestrel/internal/model"
)

// NewProvider creates the configured provider. An empty provider name means
// reasoning is disabled and returns nil without error; the pipeline then
// runs on its deterministic paths alone.
func NewProvider(config model.ReasoningConfig) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown reasoning provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}
