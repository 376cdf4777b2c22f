package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// Input is the blocking human collaborator channel. Ask returns the
// operator's answer or fails when the session is cancelled.
type Input interface {
	Ask(ctx context.Context, sessionID, prompt string) (string, error)
}

// Human bridges a request-human-input directive to the Input channel and
// resumes the agent that asked.
type Human struct {
	input Input
}

func NewHuman(input Input) *Human {
	return &Human{input: input}
}

func (a *Human) ID() domain.AgentID { return domain.AgentHuman }

func (a *Human) Handle(ctx context.Context, inv Invocation) (Result, error) {
	prompt := "The workflow needs your input."
	if n := len(inv.State.Messages); n > 0 {
		prompt = inv.State.Messages[n-1].Content
	}
	answer, err := a.input.Ask(ctx, inv.State.SessionID, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("human input: %w", err)
	}
	return Result{
		Delta: domain.StateDelta{
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleUser,
				Content:   answer,
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveContinue,
	}, nil
}
