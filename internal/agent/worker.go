package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/dsg"
	"github.com/SoheylM/agentic-eng-design/internal/evolve"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
	"github.com/SoheylM/agentic-eng-design/internal/tool"
)

const workerSystemPrompt = `You are a design engineer. Produce one complete design proposal for the current task: name the functions, components, and physical embodiments involved, and state which requirements each part satisfies.`

const reflectSystemPrompt = `You are a design reviewer. Critique the proposal: missing requirements, physical infeasibility, weak couplings. Be specific and brief.`

const scoreSchema = `{
	"type": "object",
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"rationale": {"type": "string"}
	},
	"required": ["score"],
	"additionalProperties": false
}`

const evolveSystemPrompt = `You are a design engineer. Combine the strengths of the parent proposal with the fixes its critique demands and produce one improved proposal.`

const designSystemPrompt = `You are a graph designer. Convert the winning proposal into graph operations against the current design graph. Reference requirement ids exactly as given and connect every new element to the requirements it satisfies.`

const designSchema = `{
	"type": "object",
	"properties": {
		"ops": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"op": {"type": "string", "enum": ["add-node", "update-node", "remove-node", "add-edge", "remove-edge"]},
					"id": {"type": "string"},
					"kind": {"type": "string", "enum": ["requirement", "function", "component", "physical-embodiment", "behavior-model"]},
					"name": {"type": "string"},
					"payload": {"type": "object"},
					"source": {"type": "string"},
					"target": {"type": "string"},
					"relation": {"type": "string", "enum": ["decomposes", "satisfies", "realizes", "depends-on"]}
				},
				"required": ["op"],
				"additionalProperties": false
			}
		}
	},
	"required": ["ops"],
	"additionalProperties": false
}`

// GenerationObserver is notified after every ranking pass of a session's
// evolution loop.
type GenerationObserver func(sessionID string, generation int, survivors []domain.Candidate)

// Worker executes the active plan item. The full variant searches for a
// proposal with the evolution loop; the pair variant does a single
// generate/reflect exchange. Either way the winning proposal is converted
// into a graph mutation for the engine to apply.
type Worker struct {
	gw          gateway.Gateway
	variant     domain.Variant
	evolveCfg   evolve.Config
	temperature float32
	observer    GenerationObserver
	tools       *tool.Registry
	logger      *log.Logger
}

func NewWorker(gw gateway.Gateway, variant domain.Variant, evolveCfg evolve.Config, temperature float32, observer GenerationObserver, tools *tool.Registry, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		gw:          gw,
		variant:     variant,
		evolveCfg:   evolveCfg,
		temperature: temperature,
		observer:    observer,
		tools:       tools,
		logger:      logger,
	}
}

func (a *Worker) ID() domain.AgentID { return domain.AgentWorker }

func (a *Worker) Handle(ctx context.Context, inv Invocation) (Result, error) {
	item := inv.State.ActiveItem()
	if item == nil {
		return Result{}, fmt.Errorf("worker invoked with no active plan item")
	}

	toolMessages := a.consult(ctx, inv, *item)
	state := inv.State
	state.Messages = append(state.Messages, toolMessages...)

	op := &gatewayOperator{
		gw:          a.gw,
		state:       state,
		task:        *item,
		lastError:   inv.LastApplyError,
		temperature: a.temperature,
	}

	var best domain.Candidate
	var err error
	switch a.variant {
	case domain.VariantPair:
		best, err = a.runPair(ctx, op)
	default:
		var observer evolve.Observer
		if a.observer != nil {
			sessionID := inv.State.SessionID
			observer = func(generation int, _ evolve.Phase, survivors []domain.Candidate) {
				a.observer(sessionID, generation, survivors)
			}
		}
		loop := evolve.New(a.evolveCfg, op, observer, a.logger)
		best, err = loop.Run(ctx)
	}
	if err != nil {
		return Result{}, fmt.Errorf("task %s: %w", item.ID, err)
	}

	mutation, err := a.design(ctx, inv, best)
	if err != nil {
		return Result{}, fmt.Errorf("task %s: %w", item.ID, err)
	}

	content := best.Content
	if best.Reflection != "" {
		content += "\n\nReview: " + best.Reflection
	}
	return Result{
		Delta: domain.StateDelta{
			AppendMessages: append(toolMessages, domain.MessageEntry{
				ID:        uuid.NewString(),
				Role:      domain.RoleAgent,
				Agent:     a.ID(),
				Content:   content,
				CreatedAt: time.Now().UTC(),
			}),
		},
		Mutation:  &mutation,
		Directive: domain.DirectiveContinue,
	}, nil
}

// consult runs every registered tool against the active task and renders
// the outputs as transcript entries. Tool failures are recorded, not fatal;
// nothing a tool returns is trusted before the supervisor gate.
func (a *Worker) consult(ctx context.Context, inv Invocation, item domain.PlanItem) []domain.MessageEntry {
	if a.tools == nil {
		return nil
	}
	args := map[string]string{
		"request": inv.State.Request,
		"task":    item.Description,
	}
	var entries []domain.MessageEntry
	for _, id := range a.tools.IDs() {
		out, err := a.tools.Invoke(ctx, id, args)
		content := out.Content
		if err != nil {
			a.logger.Printf("worker: tool %s failed: %v", id, err)
			content = fmt.Sprintf("tool %s failed: %v", id, err)
		}
		entries = append(entries, domain.MessageEntry{
			ID:        uuid.NewString(),
			Role:      domain.RoleTool,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		})
	}
	return entries
}

// runPair is the reduced two-agent variant: one proposal, one critique,
// no ranking or evolution.
func (a *Worker) runPair(ctx context.Context, op *gatewayOperator) (domain.Candidate, error) {
	population, err := op.Generate(ctx, 1)
	if err != nil {
		return domain.Candidate{}, err
	}
	c := population[0]
	reflection, err := op.Reflect(ctx, c)
	if err != nil {
		return domain.Candidate{}, err
	}
	c.Reflection = reflection
	return c, nil
}

// design turns the winning candidate into validated graph operations.
func (a *Worker) design(ctx context.Context, inv Invocation, best domain.Candidate) (dsg.Mutation, error) {
	var sb strings.Builder
	sb.WriteString("Winning proposal:\n" + best.Content + "\n")
	if best.Reflection != "" {
		sb.WriteString("\nReview:\n" + best.Reflection + "\n")
	}
	sb.WriteString("\nRequirement ids:\n")
	for _, r := range inv.State.Requirements {
		fmt.Fprintf(&sb, "- %s: %s\n", r.ID, r.Text)
	}
	if nodes := inv.Graph.Nodes(); len(nodes) > 0 {
		sb.WriteString("\nExisting graph nodes:\n")
		for _, n := range nodes {
			fmt.Fprintf(&sb, "- %s (%s) %s\n", n.ID, n.Kind, n.Name)
		}
	}
	if inv.LastApplyError != nil {
		sb.WriteString("\nPrevious mutation was rejected: " + inv.LastApplyError.Error() + "\n")
	}

	state := inv.State
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: sb.String(),
	})

	resp, err := a.gw.Complete(ctx, gateway.Request{
		Messages:   transcript(state, designSystemPrompt),
		Schema:     designSchema,
		SchemaName: "graph_ops",
		// Graph conversion wants precision, not diversity.
		Temperature: 0,
	})
	if err != nil {
		return dsg.Mutation{}, fmt.Errorf("graph design: %w", err)
	}

	var parsed struct {
		Ops []struct {
			Op       string          `json:"op"`
			ID       string          `json:"id"`
			Kind     string          `json:"kind"`
			Name     string          `json:"name"`
			Payload  json.RawMessage `json:"payload"`
			Source   string          `json:"source"`
			Target   string          `json:"target"`
			Relation string          `json:"relation"`
		} `json:"ops"`
	}
	if err := json.Unmarshal(resp.Structured, &parsed); err != nil {
		return dsg.Mutation{}, malformed(fmt.Errorf("decode graph ops: %w", err))
	}
	if len(parsed.Ops) == 0 {
		return dsg.Mutation{}, malformed(fmt.Errorf("graph design produced no ops"))
	}

	ops := make([]dsg.Op, 0, len(parsed.Ops))
	for _, raw := range parsed.Ops {
		switch dsg.OpKind(raw.Op) {
		case dsg.OpAddNode, dsg.OpUpdateNode:
			ops = append(ops, dsg.Op{
				Kind: dsg.OpKind(raw.Op),
				Node: &dsg.Node{
					ID:      raw.ID,
					Kind:    dsg.NodeKind(raw.Kind),
					Name:    raw.Name,
					Payload: raw.Payload,
				},
			})
		case dsg.OpRemoveNode:
			ops = append(ops, dsg.Op{Kind: dsg.OpRemoveNode, NodeID: raw.ID})
		case dsg.OpAddEdge, dsg.OpRemoveEdge:
			ops = append(ops, dsg.Op{
				Kind: dsg.OpKind(raw.Op),
				Edge: &dsg.Edge{Source: raw.Source, Target: raw.Target, Relation: dsg.Relation(raw.Relation)},
			})
		default:
			return dsg.Mutation{}, malformed(fmt.Errorf("unknown graph op %q", raw.Op))
		}
	}
	return dsg.Mutation{Agent: a.ID(), Ops: ops}, nil
}

// gatewayOperator backs the evolution loop phases with gateway calls. Each
// phase call is independent of the others, so the loop may fan them out.
type gatewayOperator struct {
	gw          gateway.Gateway
	state       domain.SessionState
	task        domain.PlanItem
	lastError   *dsg.ValidationError
	temperature float32
}

func (o *gatewayOperator) taskContext() domain.SessionState {
	state := o.state
	var sb strings.Builder
	sb.WriteString("Current task: " + o.task.Description + "\n")
	if o.lastError != nil {
		sb.WriteString("A previous attempt was rejected: " + o.lastError.Error() + "\n")
	}
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: sb.String(),
	})
	return state
}

func (o *gatewayOperator) Generate(ctx context.Context, k int) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, k)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < k; i++ {
		i := i
		g.Go(func() error {
			resp, err := o.gw.Complete(gctx, gateway.Request{
				Messages:    transcript(o.taskContext(), workerSystemPrompt),
				Temperature: o.temperature,
			})
			if err != nil {
				return err
			}
			out[i] = domain.Candidate{
				ID:      "cand-" + uuid.NewString(),
				Content: resp.Text,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *gatewayOperator) Reflect(ctx context.Context, c domain.Candidate) (string, error) {
	state := o.taskContext()
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: "Proposal under review:\n" + c.Content,
	})
	resp, err := o.gw.Complete(ctx, gateway.Request{
		Messages:    transcript(state, reflectSystemPrompt),
		Temperature: o.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (o *gatewayOperator) Score(ctx context.Context, c domain.Candidate) (float64, error) {
	state := o.taskContext()
	content := "Proposal:\n" + c.Content
	if c.Reflection != "" {
		content += "\n\nCritique:\n" + c.Reflection
	}
	state.Messages = append(state.Messages, domain.MessageEntry{
		Role:    domain.RoleFeedback,
		Content: content,
	})
	resp, err := o.gw.Complete(ctx, gateway.Request{
		Messages:    transcript(state, "Rate how well the proposal meets the requirements on [0, 1]."),
		Schema:      scoreSchema,
		SchemaName:  "score",
		Temperature: 0,
	})
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(resp.Structured, &parsed); err != nil {
		return 0, malformed(fmt.Errorf("decode score: %w", err))
	}
	if parsed.Score < 0 || parsed.Score > 1 {
		return 0, malformed(fmt.Errorf("score %v out of range", parsed.Score))
	}
	return parsed.Score, nil
}

func (o *gatewayOperator) Evolve(ctx context.Context, parents []domain.Candidate, k, generation int) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, k)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < k; i++ {
		i := i
		parent := parents[i%len(parents)]
		g.Go(func() error {
			state := o.taskContext()
			content := "Parent proposal:\n" + parent.Content
			if parent.Reflection != "" {
				content += "\n\nIts critique:\n" + parent.Reflection
			}
			state.Messages = append(state.Messages, domain.MessageEntry{
				Role:    domain.RoleFeedback,
				Content: content,
			})
			resp, err := o.gw.Complete(gctx, gateway.Request{
				Messages:    transcript(state, evolveSystemPrompt),
				Temperature: o.temperature,
			})
			if err != nil {
				return err
			}
			out[i] = domain.Candidate{
				ID:         "cand-" + uuid.NewString(),
				Content:    resp.Text,
				Lineage:    parent.ID,
				Generation: generation,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
