// internal/export/schema.go
package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/order-archivers/harvest/pkg/models"
)

//go:embed schema.json
var defaultSchema []byte

// Schema validates export bundles before anything is written to disk.
type Schema struct {
	compiled *jsonschema.Schema
	source   string
}

// DefaultSchema compiles the bundled export schema.
func DefaultSchema() (*Schema, error) {
	return compileSchema("schema.json (embedded)", defaultSchema)
}

// SchemaFromFile compiles a schema supplied by the operator, replacing the
// bundled one.
func SchemaFromFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	return compileSchema(path, data)
}

func compileSchema(source string, data []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(source, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", source, err)
	}
	compiled, err := compiler.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", source, err)
	}
	return &Schema{compiled: compiled, source: source}, nil
}

// Validate checks the bundle against the schema. The error names the schema
// source and the violating location.
func (s *Schema) Validate(bundle *models.ExportBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding bundle: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("bundle does not match schema %s: %w", s.source, err)
	}
	return nil
}
