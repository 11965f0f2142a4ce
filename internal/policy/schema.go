package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// jurisdictionsSchema validates a jurisdictions YAML file.
const jurisdictionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "steward jurisdictions",
  "type": "object",
  "required": ["jurisdictions"],
  "properties": {
    "jurisdictions": {
      "type": "object",
      "propertyNames": {"pattern": "^[A-Z]{2}$"},
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "allowed_providers": {
            "type": "array",
            "items": {"type": "string", "enum": ["openai", "anthropic", "ollama", "bedrock"]}
          },
          "local_only_from": {"type": "string", "enum": ["low", "medium", "high", "sacred"]}
        }
      }
    }
  }
}`

// ValidateYAML converts YAML to JSON and validates it against a JSON schema.
func ValidateYAML(schema string, yamlBytes []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML for schema validation: %w", err)
	}

	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var b strings.Builder
		for _, verr := range result.Errors() {
			fmt.Fprintf(&b, "- %s\n", verr)
		}
		return fmt.Errorf("schema validation errors:\n%s", b.String())
	}
	return nil
}

// normalizeYAML recursively converts map[interface{}]interface{} to
// map[string]interface{} so that json.Marshal can handle it.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = normalizeYAML(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
