package router

import (
	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// Decision is either the next agent to invoke or a terminal outcome.
type Decision struct {
	Agent    domain.AgentID
	Terminal bool
	Outcome  domain.Outcome
}

// Router chooses the next agent from the session state alone. It holds no
// mutable state of its own, so identical input always yields the same
// decision.
type Router struct {
	retryLimit int
}

func New(retryLimit int) *Router {
	if retryLimit <= 0 {
		retryLimit = 3
	}
	return &Router{retryLimit: retryLimit}
}

// Checkpoint names the retry budget bucket for the current state: the
// active plan item when one exists, the session otherwise.
func Checkpoint(s domain.SessionState) string {
	if item := s.ActiveItem(); item != nil {
		return item.ID
	}
	return "session"
}

// Next applies the routing rules in priority order, first match wins.
func (r *Router) Next(s domain.SessionState) Decision {
	// 1. A human-input request always takes precedence; the requester is
	// resumed afterwards via ResumeAgent.
	if s.Directive == domain.DirectiveRequestHumanInput {
		return Decision{Agent: domain.AgentHuman}
	}

	// 2 and 3. A rejected checkpoint retries its producer until the
	// budget is spent, then hands the session to a human.
	if s.Directive == domain.DirectiveValidationFailed {
		if s.RetryCounts[Checkpoint(s)] < r.retryLimit {
			producer := s.ResumeAgent
			if producer == "" {
				producer = domain.AgentWorker
			}
			return Decision{Agent: producer}
		}
		return Decision{Terminal: true, Outcome: domain.AwaitingHuman("validation retry budget exhausted")}
	}

	if s.Directive == domain.DirectiveTerminate {
		return Decision{Terminal: true, Outcome: domain.Completed()}
	}

	// A plan revision goes back to the planner regardless of item state.
	if s.Directive == domain.DirectivePlanRevision {
		return Decision{Agent: domain.AgentPlanner}
	}

	// Resume the agent that asked for human input once it has answered.
	if s.LastAgent == domain.AgentHuman && s.ResumeAgent != "" {
		return Decision{Agent: s.ResumeAgent}
	}

	// Bootstrap: requirements before plan, plan before work.
	if len(s.Requirements) == 0 {
		return Decision{Agent: domain.AgentRequirements}
	}
	if len(s.Plan) == 0 {
		return Decision{Agent: domain.AgentPlanner}
	}

	// 4. An active item alternates between the worker and the gate that
	// validates its output.
	if s.ActiveItem() != nil {
		if s.LastAgent == domain.AgentWorker {
			return Decision{Agent: domain.AgentSupervisor}
		}
		return Decision{Agent: domain.AgentWorker}
	}

	// 5. Items remain: the planner activates the next one.
	if s.NextPendingIndex() >= 0 {
		return Decision{Agent: domain.AgentPlanner}
	}

	// 6. Plan exhausted: synthesize, then its terminate directive ends
	// the session.
	return Decision{Agent: domain.AgentSynthesizer}
}
