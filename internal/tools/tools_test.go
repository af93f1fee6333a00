package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type echoArgs struct {
	Text  string `json:"text"`
	Times int    `json:"times,omitempty"`
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input text." }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string"},
			"times": {"type": "integer", "minimum": 1}
		},
		"required": ["text"],
		"additionalProperties": false
	}`)
}
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a echoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"echo": a.Text})
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("valid arguments pass", func(t *testing.T) {
		if err := reg.Validate("echo", json.RawMessage(`{"text":"hi","times":2}`)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("schema violation yields ValidationError", func(t *testing.T) {
		err := reg.Validate("echo", json.RawMessage(`{"times":0}`))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *ValidationError, got %T: %v", err, err)
		}
		if verr.Tool != "echo" {
			t.Errorf("wrong tool in error: %s", verr.Tool)
		}
	})

	t.Run("malformed JSON yields ValidationError", func(t *testing.T) {
		err := reg.Validate("echo", json.RawMessage(`{"text":`))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected *ValidationError, got %T: %v", err, err)
		}
	})

	t.Run("unknown tool is not a validation error", func(t *testing.T) {
		err := reg.Validate("no-such-tool", json.RawMessage(`{}`))
		if !errors.Is(err, ErrUnknownTool) {
			t.Fatalf("expected ErrUnknownTool, got %v", err)
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			t.Error("unknown tool must not be offered to the repair loop")
		}
	})
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["echo"] != "hello" {
		t.Errorf("unexpected result %v", got)
	}

	// Invalid args must short-circuit before the tool runs.
	if _, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{}`)); err == nil {
		t.Error("expected validation failure for missing required field")
	}
}

func TestRegistryDefinitions(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "echo" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if len(defs[0].Schema) == 0 {
		t.Error("definition is missing its schema")
	}
}

func TestSchemaOf(t *testing.T) {
	schema := SchemaOf(&echoArgs{})
	var decoded map[string]any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	props, ok := decoded["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", schema)
	}
	if _, ok := props["text"]; !ok {
		t.Errorf("schema missing text property: %s", schema)
	}
}
