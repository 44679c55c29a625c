// Package schema validates request payloads against inline JSON Schemas.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// MustCompile compiles an inline schema document. It panics on a broken
// schema, so it is meant for package-level schema constants only.
func MustCompile(id, schema string) *jsonschema.Schema {
	compiled, err := Compile(id, schema)
	if err != nil {
		panic(err)
	}
	return compiled
}

// Compile compiles an inline schema document under a stable resource id.
func Compile(id, schema string) (*jsonschema.Schema, error) {
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks a decoded JSON value against a compiled schema. Raw JSON
// payloads are decoded first.
func Validate(compiled *jsonschema.Schema, value any) error {
	payload, err := normalize(value)
	if err != nil {
		return err
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func normalize(value any) (any, error) {
	switch v := value.(type) {
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	default:
		return value, nil
	}
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
