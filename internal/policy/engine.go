package policy

import (
	"fmt"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// InternalConsistencyError means an agent emitted a directive outside its
// declared contract. This is a programming defect, never retried; the
// engine aborts the session on sight.
type InternalConsistencyError struct {
	Agent     domain.AgentID
	Directive domain.Directive
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("agent %s emitted directive %q outside its contract", e.Agent, e.Directive)
}

// Engine holds the closed table of which directives each agent may emit.
type Engine struct {
	contracts map[domain.AgentID][]domain.Directive
}

func New() *Engine {
	return &Engine{contracts: map[domain.AgentID][]domain.Directive{
		domain.AgentRequirements: {
			domain.DirectiveContinue,
			domain.DirectiveRequestHumanInput,
		},
		domain.AgentPlanner: {
			domain.DirectiveContinue,
			domain.DirectivePlanRevision,
			domain.DirectiveRequestHumanInput,
		},
		domain.AgentWorker: {
			domain.DirectiveContinue,
			domain.DirectiveRequestHumanInput,
		},
		domain.AgentSupervisor: {
			domain.DirectiveValidationPassed,
			domain.DirectiveValidationFailed,
		},
		domain.AgentSynthesizer: {
			domain.DirectiveContinue,
			domain.DirectiveTerminate,
		},
		domain.AgentHuman: {
			domain.DirectiveContinue,
			domain.DirectiveTerminate,
		},
	}}
}

// Check validates one emitted directive against the agent's contract.
func (e *Engine) Check(agent domain.AgentID, d domain.Directive) error {
	allowed, ok := e.contracts[agent]
	if !ok {
		return &InternalConsistencyError{Agent: agent, Directive: d}
	}
	for _, a := range allowed {
		if a == d {
			return nil
		}
	}
	return &InternalConsistencyError{Agent: agent, Directive: d}
}

// Allowed reports the contract for one agent, for logging and audit.
func (e *Engine) Allowed(agent domain.AgentID) []domain.Directive {
	return append([]domain.Directive(nil), e.contracts[agent]...)
}
