package eval

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/policy"
)

const boundsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "min_empathy": {"type": "number", "minimum": 0, "maximum": 1},
    "critical_empathy": {"type": "number", "minimum": 0, "maximum": 1},
    "max_hallucination": {"type": "number", "minimum": 0, "maximum": 1},
    "min_citation_coverage": {"type": "number", "minimum": 0, "maximum": 1},
    "min_refusal_accuracy": {"type": "number", "minimum": 0, "maximum": 1},
    "min_sacred_detection": {"type": "number", "minimum": 0, "maximum": 1},
    "min_quality": {"type": "number", "minimum": 0, "maximum": 1},
    "max_latency_ms": {"type": "number", "minimum": 0},
    "max_error_rate": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var thresholdsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "steward eval thresholds",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "base": {
      "type": "object",
      "propertyNames": {"enum": ["low", "medium", "high", "sacred"]},
      "additionalProperties": ` + boundsSchema + `
    },
    "agents": {
      "type": "object",
      "additionalProperties": ` + boundsSchema + `
    }
  }
}`

const metricsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "steward eval metrics",
  "type": "object",
  "required": ["agent_type", "metrics"],
  "properties": {
    "agent_type": {"type": "string", "minLength": 1},
    "sensitivity": {"type": "string", "enum": ["low", "medium", "high", "sacred"]},
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "empathy": {"type": "number"},
        "hallucination": {"type": "number"},
        "citation_coverage": {"type": "number"},
        "sacred_detection": {"type": "number"},
        "latency_ms": {"type": "number"},
        "error_rate": {"type": "number"},
        "refusal_accuracy": {"type": "number"},
        "quality": {"type": "number"}
      }
    }
  }
}`

// LoadTable reads a thresholds file and merges it over the built-in table.
// An empty path returns the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	content, err := policy.ReadValidated(path, thresholdsSchema)
	if err != nil {
		return nil, fmt.Errorf("eval thresholds: %w", err)
	}
	var overlay Table
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return nil, fmt.Errorf("parsing eval thresholds: %w", err)
	}
	return DefaultTable().Merge(&overlay), nil
}

// Case is one set of measurements to score, as read from a metrics file.
type Case struct {
	AgentType   string               `yaml:"agent_type"`
	Sensitivity agentapi.Sensitivity `yaml:"sensitivity"`
	Metrics     Metrics              `yaml:"metrics"`
}

// LoadCase reads a YAML or JSON metrics file. Sensitivity defaults to low.
func LoadCase(path string) (Case, error) {
	content, err := policy.ReadValidated(path, metricsSchema)
	if err != nil {
		return Case{}, fmt.Errorf("eval metrics: %w", err)
	}
	var c Case
	if err := yaml.Unmarshal(content, &c); err != nil {
		return Case{}, fmt.Errorf("parsing eval metrics: %w", err)
	}
	if c.Sensitivity == "" {
		c.Sensitivity = agentapi.SensitivityLow
	}
	return c, nil
}
