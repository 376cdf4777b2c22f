package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
)

const synthesizerSystemPrompt = `You are a design synthesizer. Summarize the finished design: the chosen architecture, how each requirement is satisfied, and any open risks.`

// Synthesizer closes the session once the plan is exhausted: it writes the
// final design summary and terminates.
type Synthesizer struct {
	gw          gateway.Gateway
	temperature float32
	logger      *log.Logger
}

func NewSynthesizer(gw gateway.Gateway, temperature float32, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synthesizer{gw: gw, temperature: temperature, logger: logger}
}

func (a *Synthesizer) ID() domain.AgentID { return domain.AgentSynthesizer }

func (a *Synthesizer) Handle(ctx context.Context, inv Invocation) (Result, error) {
	state := inv.State
	var graphSummary string
	for _, n := range inv.Graph.Nodes() {
		graphSummary += fmt.Sprintf("- %s (%s) %s\n", n.ID, n.Kind, n.Name)
	}
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: "Final design graph:\n" + graphSummary,
	})

	resp, err := a.gw.Complete(ctx, gateway.Request{
		Messages:    transcript(state, synthesizerSystemPrompt),
		Temperature: a.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("synthesis: %w", err)
	}
	a.logger.Printf("agent %s: session %s synthesized at graph version %d", a.ID(), inv.State.SessionID, inv.Graph.Version())

	return Result{
		Delta: domain.StateDelta{
			AppendMessages: []domain.MessageEntry{{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   resp.Text,
				CreatedAt: time.Now().UTC(),
			}},
		},
		Directive: domain.DirectiveTerminate,
	}, nil
}
