package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteRecipeOverlay writes a valid recipe overlay YAML into dir and returns
// its path. It adds a "grant-writer" agent routed to gpt-4o-mini.
func WriteRecipeOverlay(t *testing.T, dir string) string {
	t.Helper()
	content := `recipes:
  - id: grant-writer
    name: Grant Writer
    role: You draft grant applications from community stories.
    default_model: gpt-4o-mini
    fallback_model: llama3.1:8b
    max_input_tokens: 8000
    max_output_tokens: 1500
    default_temperature: 0.4
    guardrails:
      - kind: consent
        blocking: true
        action: block
      - kind: pii
        action: redact
`
	path := filepath.Join(dir, "recipes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteRequestFile writes an agent request as YAML into dir and returns its
// path.
func WriteRequestFile(t *testing.T, dir, agentType, tenantID string) string {
	t.Helper()
	content := `agent_type: ` + agentType + `
context:
  tenant_id: ` + tenantID + `
  user_id: user-1
  sensitivity: low
  consent_scope: ["transcript:123"]
input:
  transcript: "I came home to the river after twenty years."
`
	path := filepath.Join(dir, "request.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
