package llm

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Config selects which providers are built. Empty fields leave the provider
// out, except Ollama which defaults to localhost when OllamaBaseURL is empty
// and IncludeOllama is set.
type Config struct {
	OpenAIKey     string
	AnthropicKey  string
	OllamaBaseURL string
	IncludeOllama bool
	BedrockRegion string
}

// NewRouterFromConfig builds a Router with every provider cfg enables. A
// Bedrock client that fails to load AWS configuration is logged and skipped.
func NewRouterFromConfig(ctx context.Context, cfg Config) *Router {
	r := NewRouter()
	if cfg.OpenAIKey != "" {
		r.Register(NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		r.Register(NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaBaseURL != "" || cfg.IncludeOllama {
		r.Register(NewOllamaProvider(cfg.OllamaBaseURL))
	}
	if cfg.BedrockRegion != "" {
		p, err := NewBedrockProvider(ctx, cfg.BedrockRegion)
		if err != nil {
			log.Warn().Err(err).Str("region", cfg.BedrockRegion).Msg("bedrock_provider_unavailable")
		} else {
			r.Register(p)
		}
	}
	log.Debug().Strs("providers", r.Providers()).Msg("llm_router_ready")
	return r
}

// ProviderUsesAPIKey reports whether the named provider requires an API key.
// Ollama (local) and Bedrock (IAM-based) do not.
func ProviderUsesAPIKey(providerName string) bool {
	switch providerName {
	case ProviderOpenAI, ProviderAnthropic:
		return true
	default:
		return false
	}
}
