package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/steward/internal/policy"
)

const overlaySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "steward recipe overlay",
  "type": "object",
  "required": ["recipes"],
  "properties": {
    "recipes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "default_model", "fallback_model", "max_input_tokens", "max_output_tokens"],
        "properties": {
          "id": {"type": "string", "pattern": "^[a-z0-9-]+$"},
          "name": {"type": "string"},
          "role": {"type": "string"},
          "default_model": {"type": "string", "minLength": 1},
          "fallback_model": {"type": "string", "minLength": 1},
          "max_input_tokens": {"type": "integer", "minimum": 1},
          "max_output_tokens": {"type": "integer", "minimum": 1},
          "default_temperature": {"type": "number", "minimum": 0, "maximum": 2},
          "human_in_loop_required": {"type": "boolean"},
          "requires_citations": {"type": "boolean"},
          "kpis": {"type": "array", "items": {"type": "string"}},
          "guardrails": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["kind", "action"],
              "additionalProperties": false,
              "properties": {
                "kind": {"type": "string", "enum": ["consent", "pii", "cultural", "jurisdiction", "toxicity", "budget"]},
                "blocking": {"type": "boolean"},
                "threshold": {"type": "number"},
                "action": {"type": "string", "enum": ["block", "flag", "elder_review", "redact"]}
              }
            }
          }
        }
      }
    }
  }
}`

// LoadOverlay reads a YAML file of recipes that replace or extend the built-in
// ones. The file is validated against a JSON schema before decoding.
func LoadOverlay(path string) ([]Recipe, error) {
	content, err := policy.ReadValidated(path, overlaySchema)
	if err != nil {
		return nil, fmt.Errorf("recipe overlay: %w", err)
	}
	var doc struct {
		Recipes []Recipe `yaml:"recipes"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing recipe overlay: %w", err)
	}
	return doc.Recipes, nil
}

// Load returns the built-in catalog, merged with the overlay at path when
// path is non-empty.
func Load(path string) (*Catalog, error) {
	base, err := NewCatalog(Defaults()...)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	overlay, err := LoadOverlay(path)
	if err != nil {
		return nil, err
	}
	return base.Merge(overlay)
}
