package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
)

const plannerSystemPrompt = `You are a design planner. Break the requirements into an ordered list of concrete design tasks. Each task should produce one coherent part of the design: a functional decomposition, a component selection, or a behavior model.`

const planSchema = `{
	"type": "object",
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"description": {"type": "string"}
				},
				"required": ["description"],
				"additionalProperties": false
			}
		}
	},
	"required": ["tasks"],
	"additionalProperties": false
}`

// Planner drafts the task plan on first call and advances it on later
// calls once the current item is done.
type Planner struct {
	gw          gateway.Gateway
	temperature float32
	logger      *log.Logger
}

func NewPlanner(gw gateway.Gateway, temperature float32, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{gw: gw, temperature: temperature, logger: logger}
}

func (a *Planner) ID() domain.AgentID { return domain.AgentPlanner }

func (a *Planner) Handle(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.State.Plan) > 0 {
		return a.advance(inv)
	}
	return a.draft(ctx, inv)
}

func (a *Planner) draft(ctx context.Context, inv Invocation) (Result, error) {
	var reqLines []string
	for _, r := range inv.State.Requirements {
		reqLines = append(reqLines, fmt.Sprintf("- [%s] %s (%s)", r.ID, r.Text, r.Category))
	}
	state := inv.State
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: "Requirements:\n" + strings.Join(reqLines, "\n"),
	})

	resp, err := a.gw.Complete(ctx, gateway.Request{
		Messages:    transcript(state, plannerSystemPrompt),
		Schema:      planSchema,
		SchemaName:  "plan",
		Temperature: a.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("plan draft: %w", err)
	}

	var parsed struct {
		Tasks []struct {
			Description string `json:"description"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(resp.Structured, &parsed); err != nil {
		return Result{}, malformed(fmt.Errorf("decode plan: %w", err))
	}
	if len(parsed.Tasks) == 0 {
		return Result{}, malformed(fmt.Errorf("empty plan"))
	}

	plan := make([]domain.PlanItem, 0, len(parsed.Tasks))
	for _, task := range parsed.Tasks {
		plan = append(plan, domain.PlanItem{
			ID:          "task-" + uuid.NewString(),
			Description: task.Description,
			Status:      domain.PlanStatusPending,
		})
	}
	a.logger.Printf("agent %s: drafted plan with %d tasks", a.ID(), len(plan))

	return Result{
		Delta: domain.StateDelta{
			ReplacePlan: plan,
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   fmt.Sprintf("drafted plan with %d tasks", len(plan)),
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveContinue,
	}, nil
}

// advance requires no reasoning call: the plan already exists, the next
// pending item just needs to become the active one.
func (a *Planner) advance(inv Invocation) (Result, error) {
	if inv.State.ActiveItem() != nil {
		return Result{Directive: domain.DirectiveContinue}, nil
	}
	idx := inv.State.NextPendingIndex()
	if idx < 0 {
		return Result{Directive: domain.DirectiveContinue}, nil
	}
	item := inv.State.Plan[idx]
	return Result{
		Delta: domain.StateDelta{
			ItemStatus: map[string]domain.PlanStatus{item.ID: domain.PlanStatusActive},
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   "starting task: " + item.Description,
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveContinue,
	}, nil
}
