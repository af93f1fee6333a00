// Package tools defines the tool boundary: schema-declaring tools, a
// registry that validates arguments before execution, and structured errors
// distinguishing unknown tools from invalid arguments.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownTool means the requested tool is not registered. Unlike argument
// validation failures this is unrecoverable; the repair loop never sees it.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ValidationError reports arguments that failed schema validation. The
// orchestrator offers these to the repair loop before giving up.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Tool is a single model-invocable operation. Schema returns the JSON
// schema its arguments are validated against.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Definition is the schema triple handed to the model provider.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Registry holds the executable tool set. Schemas compile at registration so
// a malformed tool fails at startup, not mid-conversation.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	order    []string
	compiled map[string]*schemavalidate.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*schemavalidate.Schema),
	}
}

// Register adds a tool, compiling its schema. A tool with the same name
// replaces the previous registration.
func (r *Registry) Register(tool Tool) error {
	compiled, err := schemavalidate.CompileString(tool.Name()+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name()]; !ok {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.compiled[tool.Name()] = compiled
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns all registered tools in registration order, for
// passing to the model provider.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return defs
}

// SchemaFor returns the declared schema of a registered tool.
func (r *Registry) SchemaFor(name string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return tool.Schema(), true
}

// Validate checks args against the tool's schema. It returns ErrUnknownTool
// for unregistered names and *ValidationError for schema failures.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{Tool: name, Err: fmt.Errorf("arguments are not valid JSON: %w", err)}
	}
	if err := compiled.Validate(decoded); err != nil {
		return &ValidationError{Tool: name, Err: err}
	}
	return nil
}

// Execute validates and runs the named tool. Argument failures come back as
// *ValidationError without the tool running.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}
	r.mu.RLock()
	tool := r.tools[name]
	r.mu.RUnlock()
	return tool.Execute(ctx, args)
}

// SchemaOf derives a JSON schema from an arguments struct.
func SchemaOf(v any) json.RawMessage {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	data, err := schema.MarshalJSON()
	if err != nil {
		// Reflection of a plain struct cannot fail to marshal; guard anyway.
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
