package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// bedrockModelPrefixes are the vendor prefixes of Bedrock model ids, with and
// without a regional inference-profile prefix.
var bedrockModelPrefixes = []string{
	"anthropic.", "amazon.", "meta.", "mistral.", "cohere.", "ai21.",
	"eu.", "us.", "apac.", "global.",
}

// Router resolves a model id to the provider that serves it.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRouter creates a router over the given providers, keyed by Name().
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the provider for model.
func (r *Router) Resolve(ctx context.Context, model string) (Provider, error) {
	_, span := tracer.Start(ctx, "llm.route", trace.WithAttributes(
		attribute.String("gen_ai.request.model", model),
	))
	defer span.End()

	name, err := InferProvider(model)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("provider %s: %w", name, ErrProviderNotAvailable)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider", name))
	return p, nil
}

// InferProvider determines the provider name from the model identifier.
// Bedrock vendor-prefixed ids are checked before bare local model names so
// "mistral.mistral-large" is not routed to Ollama.
func InferProvider(model string) (string, error) {
	for _, prefix := range bedrockModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return ProviderBedrock, nil
		}
	}

	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(model, "llama"),
		strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "gemma"),
		strings.HasPrefix(model, "phi"),
		strings.HasPrefix(model, "qwen"):
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
}

// IsLocal reports whether a provider keeps content on operator-controlled
// hardware.
func IsLocal(provider string) bool {
	return provider == ProviderOllama
}
