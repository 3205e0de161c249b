// Package tools executes client-side tool calls issued by the remote agent
// and guarantees a correlated response for every call.
package tools

import (
	"context"
	"sync"

	"github.com/harunnryd/amira/pkg/errorsx"
)

// Handler executes one named client capability.
type Handler func(ctx context.Context, params map[string]any) (string, error)

// Registry maps tool names to handlers. Registration normally happens once
// at widget setup, but the map is guarded so hosts can add tools late.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Handle runs the named tool. Unknown tools fail with ReasonToolUnknown so
// the dispatcher can still send an error-tagged response.
func (r *Registry) Handle(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	h := r.handlers[name]
	r.mu.RUnlock()
	if h == nil {
		return "", errorsx.New("unknown tool: "+name, errorsx.ReasonToolUnknown)
	}
	result, err := h(ctx, params)
	if err != nil {
		return result, errorsx.Wrap(err, errorsx.ReasonToolExec)
	}
	return result, nil
}
