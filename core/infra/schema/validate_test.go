package schema

import (
	"encoding/json"
	"testing"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1}
	},
	"required": ["name"],
	"additionalProperties": false
}`

func TestValidateAcceptsConformingPayload(t *testing.T) {
	compiled := MustCompile("person", personSchema)
	if err := Validate(compiled, map[string]any{"name": "yuki"}); err != nil {
		t.Fatalf("conforming payload rejected: %v", err)
	}
}

func TestValidateRejectsBadPayload(t *testing.T) {
	compiled := MustCompile("person", personSchema)
	if err := Validate(compiled, map[string]any{"name": ""}); err == nil {
		t.Fatal("empty name should fail")
	}
	if err := Validate(compiled, map[string]any{"name": "x", "extra": 1}); err == nil {
		t.Fatal("additional property should fail")
	}
	if err := Validate(compiled, map[string]any{}); err == nil {
		t.Fatal("missing required property should fail")
	}
}

func TestValidateDecodesRawJSON(t *testing.T) {
	compiled := MustCompile("person", personSchema)
	if err := Validate(compiled, json.RawMessage(`{"name":"ok"}`)); err != nil {
		t.Fatalf("raw payload rejected: %v", err)
	}
	if err := Validate(compiled, []byte(`{"name":""}`)); err == nil {
		t.Fatal("raw bad payload should fail")
	}
}

func TestCompileBadSchema(t *testing.T) {
	if _, err := Compile("broken", `{"type": 12}`); err == nil {
		t.Fatal("broken schema should not compile")
	}
}
