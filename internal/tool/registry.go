// Package tool provides the tool registry, the timeout-guarded executor that
// runs tool calls requested by the LLM, the built-in call-control tools, and
// the MCP bridge that imports external tool servers.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Tool is one invocable function offered to the LLM.
//
// Execute receives the decoded arguments and returns the textual result that
// is fed back into the conversation. Implementations must honour ctx
// cancellation; the executor applies a deadline around every call.
type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, req types.ToolRequest) (string, error)
}

// Func adapts a plain function into a [Tool].
type Func struct {
	Def types.ToolDefinition
	Fn  func(ctx context.Context, req types.ToolRequest) (string, error)
}

func (f Func) Definition() types.ToolDefinition { return f.Def }

func (f Func) Execute(ctx context.Context, req types.ToolRequest) (string, error) {
	return f.Fn(ctx, req)
}

// Registry is a concurrent-safe name→tool mapping. Registration order is
// preserved for deterministic Definitions output.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Duplicate names are rejected so two MCP servers
// exporting the same tool surface at startup instead of shadowing each other.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool: definition has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool: %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Replace adds or overwrites a tool. Used when an MCP server reconnects with
// a refreshed catalogue.
func (r *Registry) Replace(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions in registration order. A non-nil
// allowlist restricts the result to the named tools plus the built-in
// call-control tools, which are always offered.
func (r *Registry) Definitions(allow []string) []types.ToolDefinition {
	var allowed map[string]bool
	if allow != nil {
		allowed = make(map[string]bool, len(allow)+2)
		for _, name := range allow {
			allowed[name] = true
		}
		allowed[EndCallName] = true
		allowed[TransferCallName] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		if allowed != nil && !allowed[name] {
			continue
		}
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Tools returns the registered tools in registration order. Sessions use it
// to fold a shared registry into their own, next to the per-call builtins.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
