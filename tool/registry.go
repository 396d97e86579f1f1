package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/verimesh/logging"
)

// Registry is a Collaborator over in-process tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

var _ Collaborator = (*Registry)(nil)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: logging.OrNoOp(opts.Logger),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// ListTools returns the registered tools ordered by name.
func (r *Registry) ListTools(_ context.Context) ([]ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Invoke runs the named tool. Panics inside the tool are recovered and
// reported as EXECUTION_ERROR.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewToolError(name, "tool not registered", CodeNotFound)
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", name)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool.call.panic", "tool", name, "panic", p)
			result = nil
			err = NewToolError(name, fmt.Sprintf("panic: %v", p), CodeExecution)
		}
	}()

	result, err = t.Call(ctx, args)
	if err != nil {
		r.logger.Warn("tool.call.error", "tool", name, "error", err.Error())
		return nil, err
	}
	r.logger.Info("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
