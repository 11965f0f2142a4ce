package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// ReadValidated reads a YAML file, validates it against schema and returns
// the raw bytes for the caller to decode.
func ReadValidated(path, schema string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ValidateYAML(schema, content); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return content, nil
}

// LoadJurisdictions loads jurisdiction rules from a YAML file of the form
//
//	jurisdictions:
//	  AU:
//	    allowed_providers: [bedrock, ollama]
//	    local_only_from: sacred
func LoadJurisdictions(ctx context.Context, path string) (Jurisdictions, error) {
	_, span := tracer.Start(ctx, "policy.load_jurisdictions")
	defer span.End()
	span.SetAttributes(attribute.String("policy.path", path))

	content, err := ReadValidated(path, jurisdictionsSchema)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Jurisdictions Jurisdictions `yaml:"jurisdictions"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if doc.Jurisdictions == nil {
		doc.Jurisdictions = Jurisdictions{}
	}
	return doc.Jurisdictions, nil
}
