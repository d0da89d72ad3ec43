// Package tools defines the tool collaborator surface: a registry of
// explicitly registered, named tools the agent loop may dispatch to.
// Discovery is deliberate registration only; no reflection scanning, so the
// executable surface is auditable at startup.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Tool is one executable capability. Execute receives the JSON-decoded
// arguments and returns a JSON-serializable result. Errors (and panics,
// which the activity layer converts) become structured error payloads
// visible to the model, never workflow failures.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Registry holds the registered tools for one hosting process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming error
// and is rejected.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = t
	return nil
}

// Get returns the tool for name, if registered.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutableSet returns a membership map of registered tool names, the shape
// stop-condition evaluation consumes.
func (r *Registry) ExecutableSet() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool, len(r.tools))
	for name := range r.tools {
		set[name] = true
	}
	return set
}

// Definitions returns the model-facing definitions, filtered to the allow
// list when it is non-empty, with extras appended for declaration-only
// tools (such as a declared done tool).
func (r *Registry) Definitions(activeTools []string, extras []Definition) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allow := make(map[string]bool, len(activeTools))
	for _, name := range activeTools {
		allow[name] = true
	}

	defs := make([]Definition, 0, len(r.tools)+len(extras))
	for name, t := range r.tools {
		if len(allow) > 0 && !allow[name] {
			continue
		}
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	defs = append(defs, extras...)
	return defs
}

// Func adapts a plain function into a Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Definition implements Tool.
func (f Func) Definition() Definition { return f.Def }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.Fn(ctx, args)
}
