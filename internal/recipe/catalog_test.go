package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Get(t *testing.T) {
	c := MustDefaultCatalog()

	r, err := c.Get("interview-analyzer")
	require.NoError(t, err)
	assert.Equal(t, "interview-analyzer", r.ID)
	assert.True(t, r.RequiresCitations)
	assert.NotEmpty(t, r.DefaultModel)
	assert.NotEqual(t, r.DefaultModel, r.FallbackModel)

	_, err = c.Get("poet")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.Contains(t, err.Error(), "poet")
}

func TestDefaultCatalog_EveryRecipeHasConsentAndCultural(t *testing.T) {
	for _, r := range MustDefaultCatalog().List() {
		t.Run(r.ID, func(t *testing.T) {
			consent, ok := r.Guardrail(GuardrailConsent)
			require.True(t, ok)
			assert.True(t, consent.Blocking)
			_, ok = r.Guardrail(GuardrailCultural)
			assert.True(t, ok)
		})
	}
}

func TestGuardrailsOf(t *testing.T) {
	c := MustDefaultCatalog()

	got, err := c.GuardrailsOf("de-escalator", GuardrailToxicity)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Blocking)

	got, err = c.GuardrailsOf("de-escalator", GuardrailBudget)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.GuardrailsOf("nope", GuardrailPII)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	c := MustDefaultCatalog()
	r, err := c.Get("de-escalator")
	require.NoError(t, err)
	r.Guardrails[0].Blocking = false
	*r.Guardrails[2].Threshold = 99

	again, err := c.Get("de-escalator")
	require.NoError(t, err)
	assert.True(t, again.Guardrails[0].Blocking)
	assert.Equal(t, 0.0, *again.Guardrails[2].Threshold)
}

func TestNewCatalog_Validation(t *testing.T) {
	valid := Recipe{ID: "a", DefaultModel: "m", FallbackModel: "f", MaxInputTokens: 1, MaxOutputTokens: 1}
	tests := []struct {
		name    string
		recipes []Recipe
		wantErr string
	}{
		{"duplicate", []Recipe{valid, valid}, "duplicate"},
		{"missing model", []Recipe{{ID: "b", MaxInputTokens: 1, MaxOutputTokens: 1}}, "models are required"},
		{"zero tokens", []Recipe{{ID: "b", DefaultModel: "m", FallbackModel: "f"}}, "token ceilings"},
		{"bad kind", []Recipe{withGuardrail(valid, GuardrailConfig{Kind: "vibes", Action: ActionFlag})}, "unknown guardrail kind"},
		{"bad action", []Recipe{withGuardrail(valid, GuardrailConfig{Kind: GuardrailPII, Action: "shout"})}, "unknown guardrail action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.recipes...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func withGuardrail(r Recipe, g GuardrailConfig) Recipe {
	r.Guardrails = []GuardrailConfig{g}
	return r
}

func TestCatalog_ConcurrentReads(t *testing.T) {
	c := MustDefaultCatalog()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get("content-intake")
			_, _ = c.GuardrailsOf("content-intake", GuardrailPII)
			_ = c.List()
		}()
	}
	wg.Wait()
}

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
recipes:
  - id: grant-writer
    name: Grant Writer
    default_model: gpt-4o
    fallback_model: gpt-4o-mini
    max_input_tokens: 2000
    max_output_tokens: 600
    guardrails:
      - kind: consent
        blocking: true
        action: block
  - id: de-escalator
    default_model: llama3.1:8b
    fallback_model: llama3.1:8b
    max_input_tokens: 1000
    max_output_tokens: 200
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	r, err := c.Get("grant-writer")
	require.NoError(t, err)
	assert.Equal(t, "Grant Writer", r.Name)

	r, err = c.Get("de-escalator")
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", r.DefaultModel)

	_, err = c.Get("interview-analyzer")
	assert.NoError(t, err)
}

func TestLoad_OverlayRejectsBadGuardrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
recipes:
  - id: x
    default_model: a
    fallback_model: b
    max_input_tokens: 1
    max_output_tokens: 1
    guardrails:
      - kind: vibes
        action: flag
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestLoad_NoOverlay(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.List(), len(Defaults()))
}
