package policy

import (
	"testing"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

func TestCheckAllowsContractDirectives(t *testing.T) {
	e := New()
	if err := e.Check(domain.AgentSupervisor, domain.DirectiveValidationFailed); err != nil {
		t.Fatalf("supervisor validation-failed rejected: %v", err)
	}
	if err := e.Check(domain.AgentWorker, domain.DirectiveContinue); err != nil {
		t.Fatalf("worker continue rejected: %v", err)
	}
}

func TestCheckRejectsOutOfContract(t *testing.T) {
	e := New()
	err := e.Check(domain.AgentWorker, domain.DirectiveValidationPassed)
	if err == nil {
		t.Fatal("worker validation-passed accepted")
	}
	ice, ok := err.(*InternalConsistencyError)
	if !ok {
		t.Fatalf("error = %T, want *InternalConsistencyError", err)
	}
	if ice.Agent != domain.AgentWorker || ice.Directive != domain.DirectiveValidationPassed {
		t.Fatalf("unexpected error fields: %+v", ice)
	}
}

func TestCheckRejectsUnknownAgent(t *testing.T) {
	e := New()
	if err := e.Check("mystery", domain.DirectiveContinue); err == nil {
		t.Fatal("unknown agent accepted")
	}
}
