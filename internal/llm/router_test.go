package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider struct{ name string }

func (p namedProvider) Name() string { return p.name }
func (p namedProvider) Generate(context.Context, *Request) (*Response, error) {
	return &Response{Content: p.name}, nil
}

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{"gpt-4o", ProviderOpenAI, false},
		{"gpt-4o-mini", ProviderOpenAI, false},
		{"claude-3-5-sonnet-20241022", ProviderAnthropic, false},
		{"llama3.1:8b", ProviderOllama, false},
		{"mistral:7b", ProviderOllama, false},
		{"mistral.mistral-large-2402-v1:0", ProviderBedrock, false},
		{"anthropic.claude-3-haiku-20240307-v1:0", ProviderBedrock, false},
		{"eu.anthropic.claude-sonnet-4-5-20250929-v1:0", ProviderBedrock, false},
		{"unknown-model", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := InferProvider(tt.model)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouterResolve(t *testing.T) {
	r := NewRouter(namedProvider{ProviderOpenAI}, namedProvider{ProviderOllama})
	ctx := context.Background()

	p, err := r.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	_, err = r.Resolve(ctx, "claude-3-5-haiku-20241022")
	assert.ErrorIs(t, err, ErrProviderNotAvailable)

	_, err = r.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownModel)

	r.Register(namedProvider{ProviderAnthropic})
	p, err = r.Resolve(ctx, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())
	assert.Equal(t, []string{ProviderAnthropic, ProviderOllama, ProviderOpenAI}, r.Providers())
}

func TestNewRouterFromConfig(t *testing.T) {
	r := NewRouterFromConfig(context.Background(), Config{OpenAIKey: "sk-test", IncludeOllama: true})
	assert.Equal(t, []string{ProviderOllama, ProviderOpenAI}, r.Providers())

	empty := NewRouterFromConfig(context.Background(), Config{})
	assert.Empty(t, empty.Providers())
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal(ProviderOllama))
	assert.False(t, IsLocal(ProviderBedrock))
	assert.False(t, IsLocal(ProviderOpenAI))
	assert.True(t, ProviderUsesAPIKey(ProviderOpenAI))
	assert.False(t, ProviderUsesAPIKey(ProviderBedrock))
}
