package server

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// validator checks a raw request body against one JSON schema. The schemas
// only pin the envelope shape; malformed values inside it fall back to
// defaults in the engine.
type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(name string) (*validator, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &validator{schema: schema}, nil
}

// Validate returns a readable list of violations, or nil
func (v *validator) Validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("request validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
