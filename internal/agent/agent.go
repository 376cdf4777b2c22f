package agent

import (
	"context"
	"fmt"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/dsg"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
)

// Invocation is the read view handed to a handler: a state snapshot, the
// graph, and the outcome of the most recent graph apply. Handlers never
// write either; they return a Result and the engine commits it.
type Invocation struct {
	State          domain.SessionState
	Graph          *dsg.Graph
	LastApplyError *dsg.ValidationError
}

// Result is everything a handler may change: a state delta, an optional
// graph mutation, and the directive steering the router.
type Result struct {
	Delta     domain.StateDelta
	Mutation  *dsg.Mutation
	Directive domain.Directive
}

type Handler interface {
	ID() domain.AgentID
	Handle(ctx context.Context, inv Invocation) (Result, error)
}

// Registry is the closed dispatch table from agent id to handler. Adding
// a role means one id constant and one handler.
type Registry struct {
	handlers map[domain.AgentID]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[domain.AgentID]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.ID()] = h
	}
	return r
}

func (r *Registry) Lookup(id domain.AgentID) (Handler, error) {
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("no handler registered for agent %q", id)
	}
	return h, nil
}

// transcript renders the session messages for a gateway call, most recent
// context last.
func transcript(s domain.SessionState, system string) []gateway.Message {
	msgs := []gateway.Message{{Role: gateway.RoleSystem, Content: system}}
	msgs = append(msgs, gateway.Message{Role: gateway.RoleUser, Content: s.Request})
	for _, m := range s.Messages {
		role := gateway.RoleAssistant
		if m.Role == domain.RoleUser || m.Role == domain.RoleFeedback || m.Role == domain.RoleTool {
			role = gateway.RoleUser
		}
		msgs = append(msgs, gateway.Message{Role: role, Content: m.Content})
	}
	return msgs
}

func malformed(err error) error {
	return &gateway.Error{Kind: gateway.ErrMalformed, Err: err}
}
