package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
)

const requirementsSystemPrompt = `You are a requirements engineer. Extract the complete set of verifiable engineering requirements from the design request. Classify each as functional, performance, safety, or interface, and state how it would be verified.`

const requirementsSchema = `{
	"type": "object",
	"properties": {
		"requirements": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"text": {"type": "string"},
					"category": {"type": "string", "enum": ["functional", "performance", "safety", "interface"]},
					"verification": {"type": "string"}
				},
				"required": ["text", "category", "verification"],
				"additionalProperties": false
			}
		}
	},
	"required": ["requirements"],
	"additionalProperties": false
}`

// Requirements turns the free-text request into the structured requirement
// list everything downstream is validated against.
type Requirements struct {
	gw          gateway.Gateway
	temperature float32
	logger      *log.Logger
}

func NewRequirements(gw gateway.Gateway, temperature float32, logger *log.Logger) *Requirements {
	if logger == nil {
		logger = log.Default()
	}
	return &Requirements{gw: gw, temperature: temperature, logger: logger}
}

func (a *Requirements) ID() domain.AgentID { return domain.AgentRequirements }

func (a *Requirements) Handle(ctx context.Context, inv Invocation) (Result, error) {
	resp, err := a.gw.Complete(ctx, gateway.Request{
		Messages:    transcript(inv.State, requirementsSystemPrompt),
		Schema:      requirementsSchema,
		SchemaName:  "requirements",
		Temperature: a.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("requirements extraction: %w", err)
	}

	var parsed struct {
		Requirements []struct {
			Text         string `json:"text"`
			Category     string `json:"category"`
			Verification string `json:"verification"`
		} `json:"requirements"`
	}
	if err := json.Unmarshal(resp.Structured, &parsed); err != nil {
		return Result{}, malformed(fmt.Errorf("decode requirements: %w", err))
	}
	if len(parsed.Requirements) == 0 {
		return Result{}, malformed(fmt.Errorf("no requirements extracted"))
	}

	reqs := make([]domain.Requirement, 0, len(parsed.Requirements))
	for _, r := range parsed.Requirements {
		reqs = append(reqs, domain.Requirement{
			ID:           "req-" + uuid.NewString(),
			Text:         r.Text,
			Category:     r.Category,
			Verification: r.Verification,
		})
	}
	a.logger.Printf("agent %s: extracted %d requirements", a.ID(), len(reqs))

	return Result{
		Delta: domain.StateDelta{
			AppendRequirements: reqs,
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   fmt.Sprintf("extracted %d requirements", len(reqs)),
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveContinue,
	}, nil
}
