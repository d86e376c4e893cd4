package prompt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quorum/internal/provider"
)

// Handler executes one tool call with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one allow-listed capability the model may call during the loop.
type Tool struct {
	Name        string
	Description string
	Required    []string // argument keys that must be present
	Handler     Handler
}

// Registry is the allow-list of tools available to the loop. Anything the
// model requests outside the registry is a validation failure, never an
// execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already exists: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Descriptors advertises the registry to the model, sorted by name.
func (r *Registry) Descriptors() []provider.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, provider.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Required:    tool.Required,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
