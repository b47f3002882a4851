package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/martinemde/dome/llm"
)

// Registry maps normalized tool names to tools and dispatches calls.
// Execute never returns an error and never panics.
type Registry struct {
	tools  map[string]*Tool
	logger *zap.Logger
	mu     sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for registration warnings and handler
// failures.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]*Tool),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools. When two tools normalize to the same name the last
// one wins.
func (r *Registry) Register(tools ...*Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t == nil {
			continue
		}
		if prev, ok := r.tools[t.Name]; ok {
			r.logger.Warn("tool name collision, replacing earlier declaration",
				zap.String("tool", t.Name),
				zap.String("previous", prev.DeclaredName),
				zap.String("declared", t.DeclaredName))
		}
		r.tools[t.Name] = t
	}
}

// Get resolves a tool by exact name, then by its normalized form.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	t, ok := r.tools[Normalize(name)]
	return t, ok
}

// Canonical returns the registered name that name resolves to, or its
// normalized form when no tool matches.
func (r *Registry) Canonical(name string) string {
	if t, ok := r.Get(name); ok {
		return t.Name
	}
	return Normalize(name)
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions renders every tool for a model request, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.Tools()
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	tools := r.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Subset returns a registry restricted to tools matching keep.
func (r *Registry) Subset(keep func(*Tool) bool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := NewRegistry(WithLogger(r.logger))
	for name, t := range r.tools {
		if keep(t) {
			sub.tools[name] = t
		}
	}
	return sub
}

// Execute runs the named tool. Unknown names, invalid arguments, handler
// errors and handler panics all come back as failure-shaped results.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) (res Result) {
	t, ok := r.Get(name)
	if !ok || t.Handler == nil {
		return NotSupported(name)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", t.Name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = Result{Success: false, Status: StatusError, Error: fmt.Sprintf("tool %s panicked: %v", t.Name, p)}
		}
	}()

	args, err := t.Canonicalize(raw)
	if err != nil {
		return Result{Success: false, Status: StatusError, Error: err.Error()}
	}

	out, err := t.Handler(ctx, args)
	if err != nil {
		r.logger.Debug("tool handler failed", zap.String("tool", t.Name), zap.Error(err))
		return Failure(err)
	}
	switch v := out.(type) {
	case Result:
		return v
	case *Result:
		if v != nil {
			return *v
		}
		return Success(nil)
	default:
		return Success(v)
	}
}
