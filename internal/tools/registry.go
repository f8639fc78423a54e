package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uamm-go/uamm/internal/logging"
)

// Registry holds the built-in tools and dispatches by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[Name]*Tool
}

// NewRegistry returns a registry with no tools registered.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[Name]*Tool)}
}

// Register adds a tool. Returns an error on duplicate name.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name Name) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// Dispatch runs a tool by name with args, timing the call and logging the
// outcome. Returns ErrToolNotFound if name isn't registered.
func (r *Registry) Dispatch(ctx context.Context, name Name, args map[string]any) (*Outcome, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if err := r.validateArgs(tool, args); err != nil {
		return Failed("invalid_args", err.Error()), nil
	}
	start := time.Now()
	outcome, err := tool.Execute(ctx, args)
	logging.ToolsDebug("dispatch name=%s elapsed=%s err=%v", name, time.Since(start), err)
	if err != nil {
		return Failed("execution_error", err.Error()), nil
	}
	return outcome, nil
}

func (r *Registry) validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
