package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrToolNotFound = errors.New("tool not found")

// Schema describes a tool the way it is offered to the assistant.
// Parameters is a JSON schema object.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Function performs a tool call. A returned error is reported to the
// assistant as text, it never aborts the batch.
type Function func(ctx context.Context, args map[string]any) (string, error)

type Tool struct {
	Schema   Schema
	Function Function

	params *jsonschema.Schema
}

// Registry manages available tools
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register compiles the tool's parameter schema and adds it to the registry.
func (r *Registry) Register(tool Tool) error {
	name := tool.Schema.Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if tool.Function == nil {
		return fmt.Errorf("tool %s has no function", name)
	}
	if len(tool.Schema.Parameters) > 0 {
		compiled, err := compile(name, tool.Schema.Parameters)
		if err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
		tool.params = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return Tool{}, fmt.Errorf("tool %s: %w", name, ErrToolNotFound)
	}

	return tool, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (r *Registry) Schemas() []Schema {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema)
	}
	return schemas
}

// Call runs the named tool. The only error returned is for an unknown name:
// invalid arguments and function failures come back as output text prefixed
// with "Error: ".
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}

	if args == nil {
		args = map[string]any{}
	}
	if tool.params != nil {
		if err := tool.params.Validate(args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err), nil
		}
	}

	out, err := tool.Function(ctx, args)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return out, nil
}

func compile(name string, params map[string]any) (*jsonschema.Schema, error) {
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, params); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}
