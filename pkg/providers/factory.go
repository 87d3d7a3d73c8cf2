package providers

import (
	"fmt"
	"strings"

	"github.com/skiffbot/skiff/pkg/config"
)

// constructor builds a concrete provider from the resolved credentials.
// The openai and anthropic packages register themselves through Register
// so this package does not import them back.
type constructor func(apiKey, apiBase string) LLMProvider

type providerDefaults struct {
	defaultBase string
	build       constructor
}

var registry = map[string]providerDefaults{}

// Register installs a provider constructor under the given name. It is
// called from the init functions of the concrete provider packages.
func Register(name, defaultBase string, build constructor) {
	registry[strings.ToLower(name)] = providerDefaults{
		defaultBase: defaultBase,
		build:       build,
	}
}

// CreateProvider resolves the configured provider name and returns a ready
// client. An unknown name with a base URL configured falls back to the
// OpenAI-compatible wire protocol, which most self-hosted gateways speak.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if name == "" {
		name = "openai"
	}

	if entry, ok := registry[name]; ok {
		base := cfg.LLM.BaseURL
		if base == "" {
			base = entry.defaultBase
		}
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("no API key configured for provider %q", name)
		}
		return entry.build(cfg.LLM.APIKey, base), nil
	}

	if compat, ok := registry["openai"]; ok && cfg.LLM.BaseURL != "" {
		return compat.build(cfg.LLM.APIKey, cfg.LLM.BaseURL), nil
	}

	return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
}
