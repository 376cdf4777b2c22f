package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownTool = errors.New("tool is not registered")

// Tool is one external capability an agent may call. Outputs are appended
// to the session transcript as-is and validated downstream, never trusted
// here.
type Tool interface {
	ID() string
	Invoke(ctx context.Context, args map[string]string) (Output, error)
}

type Output struct {
	ToolID  string
	Content string
}

// Func adapts a plain function into a Tool.
type Func struct {
	Name string
	Fn   func(ctx context.Context, args map[string]string) (string, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Invoke(ctx context.Context, args map[string]string) (Output, error) {
	content, err := f.Fn(ctx, args)
	if err != nil {
		return Output{}, err
	}
	return Output{ToolID: f.Name, Content: content}, nil
}

type Error struct {
	ToolID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %v", e.ToolID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.tools[t.ID()] = t
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID()] = t
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Invoke(ctx context.Context, toolID string, args map[string]string) (Output, error) {
	r.mu.RLock()
	t, ok := r.tools[toolID]
	r.mu.RUnlock()
	if !ok {
		return Output{}, &Error{ToolID: toolID, Err: ErrUnknownTool}
	}
	out, err := t.Invoke(ctx, args)
	if err != nil {
		return Output{}, &Error{ToolID: toolID, Err: err}
	}
	out.ToolID = toolID
	return out, nil
}
