package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// Supervisor is the validation gate. It never calls the gateway: the
// decision is a deterministic function of requirement coverage and the
// last graph apply outcome, so identical state always gates identically.
type Supervisor struct {
	threshold float64
	logger    *log.Logger
}

func NewSupervisor(threshold float64, logger *log.Logger) *Supervisor {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{threshold: threshold, logger: logger}
}

func (a *Supervisor) ID() domain.AgentID { return domain.AgentSupervisor }

func (a *Supervisor) Handle(_ context.Context, inv Invocation) (Result, error) {
	reqIDs := make([]string, 0, len(inv.State.Requirements))
	for _, r := range inv.State.Requirements {
		reqIDs = append(reqIDs, r.ID)
	}
	coverage := inv.Graph.Coverage(reqIDs)

	if inv.LastApplyError == nil && coverage >= a.threshold {
		item := inv.State.ActiveItem()
		delta := domain.StateDelta{
			CoverRequirements: coveredIDs(inv, reqIDs),
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   fmt.Sprintf("validation passed: coverage %.2f >= %.2f", coverage, a.threshold),
				CreatedAt: time.Now().UTC(),
			}},
		}
		if item != nil {
			delta.ItemStatus = map[string]domain.PlanStatus{item.ID: domain.PlanStatusDone}
		}
		a.logger.Printf("agent %s: passed at coverage %.2f", a.ID(), coverage)
		return Result{Delta: delta, Directive: domain.DirectiveValidationPassed}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "validation failed: coverage %.2f < %.2f", coverage, a.threshold)
	if missing := inv.Graph.MissingRequirements(reqIDs); len(missing) > 0 {
		sb.WriteString("; uncovered requirements: " + strings.Join(missing, ", "))
	}
	if inv.LastApplyError != nil {
		sb.WriteString("; graph mutation rejected: " + inv.LastApplyError.Error())
	}
	a.logger.Printf("agent %s: %s", a.ID(), sb.String())

	return Result{
		Delta: domain.StateDelta{
			CoverRequirements: coveredIDs(inv, reqIDs),
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleFeedback,
				Agent:     a.ID(),
				Content:   sb.String(),
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveValidationFailed,
	}, nil
}

func coveredIDs(inv Invocation, reqIDs []string) []string {
	missing := map[string]bool{}
	for _, id := range inv.Graph.MissingRequirements(reqIDs) {
		missing[id] = true
	}
	var covered []string
	for _, id := range reqIDs {
		if !missing[id] {
			covered = append(covered, id)
		}
	}
	return covered
}
