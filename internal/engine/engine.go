package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SoheylM/agentic-eng-design/internal/agent"
	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/dsg"
	"github.com/SoheylM/agentic-eng-design/internal/events"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
	"github.com/SoheylM/agentic-eng-design/internal/policy"
	"github.com/SoheylM/agentic-eng-design/internal/router"
)

// Store persists sessions, graph snapshots, and the step log. The sqlite
// implementation lives in internal/store/sqlite.
type Store interface {
	SaveSession(ctx context.Context, state domain.SessionState, outcome domain.Outcome) error
	SaveGraph(ctx context.Context, sessionID string, version int, doc []byte) error
	LogStep(ctx context.Context, entry domain.StepEntry) error
}

// Exporter writes per-session artifacts (graph documents, transcripts) to
// the run directory for external visualization and metrics tooling.
type Exporter interface {
	ExportGraph(sessionID string, doc []byte) error
	ExportTranscript(sessionID string, state domain.SessionState, outcome domain.Outcome) error
}

type Config struct {
	// StepBudget bounds the total number of agent invocations per session.
	StepBudget int
	// GatewayRetries bounds attempts per agent invocation when the
	// reasoning service fails transiently or answers malformed output.
	GatewayRetries int
	RetryBackoff   time.Duration
	// ValidationRetries bounds supervisor rejections per checkpoint before
	// the session escalates to a human.
	ValidationRetries int
}

func (c Config) withDefaults() Config {
	if c.StepBudget <= 0 {
		c.StepBudget = 64
	}
	if c.GatewayRetries <= 0 {
		c.GatewayRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.ValidationRetries <= 0 {
		c.ValidationRetries = 3
	}
	return c
}

// Engine drives one session: route, invoke, check the directive contract,
// commit. It is the only writer of SessionState and the graph.
type Engine struct {
	registry  *agent.Registry
	router    *router.Router
	contracts *policy.Engine
	store     Store
	exporter  Exporter
	bus       *events.Bus
	cfg       Config
	logger    *log.Logger
}

func New(registry *agent.Registry, store Store, exporter Exporter, bus *events.Bus, cfg Config, logger *log.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry:  registry,
		router:    router.New(cfg.ValidationRetries),
		contracts: policy.New(),
		store:     store,
		exporter:  exporter,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run drives the session to a terminal outcome. The returned state and
// graph are always valid, also on abort, so a failed session can be
// inspected post-mortem.
func (e *Engine) Run(ctx context.Context, sessionID, request string) (domain.SessionState, *dsg.Graph, domain.Outcome, error) {
	state := domain.NewSessionState(sessionID, request)
	graph := dsg.New()

	outcome, err := e.loop(ctx, &state, graph)
	if err != nil {
		outcome = domain.Aborted(err.Error())
	}

	if ferr := e.finish(state, graph, outcome); ferr != nil {
		e.logger.Printf("engine: session %s: persist final state: %v", sessionID, ferr)
	}
	e.publish(events.Event{SessionID: sessionID, Kind: events.KindOutcome, Detail: string(outcome.Kind), Version: graph.Version()})
	return state, graph, outcome, err
}

func (e *Engine) loop(ctx context.Context, state *domain.SessionState, graph *dsg.Graph) (domain.Outcome, error) {
	for step := 1; ; step++ {
		if step > e.cfg.StepBudget {
			return domain.Aborted("step-budget-exceeded"), nil
		}
		if err := ctx.Err(); err != nil {
			return domain.Aborted("cancelled"), nil
		}

		decision := e.router.Next(*state)
		if decision.Terminal {
			return decision.Outcome, nil
		}

		handler, err := e.registry.Lookup(decision.Agent)
		if err != nil {
			return domain.Outcome{}, err
		}

		res, err := e.invoke(ctx, handler, state, graph)
		if err != nil {
			var gerr *gateway.Error
			if errors.As(err, &gerr) {
				// Retry budget for this invocation is spent; park the
				// session for a human instead of losing progress.
				e.appendFeedback(state, fmt.Sprintf("agent %s gave up after repeated gateway failures: %v", handler.ID(), err))
				return domain.AwaitingHuman(err.Error()), nil
			}
			if ctx.Err() != nil {
				return domain.Aborted("cancelled"), nil
			}
			return domain.Outcome{}, err
		}

		if cerr := e.contracts.Check(handler.ID(), res.Directive); cerr != nil {
			// Contract violations are programming defects; abort with
			// state intact rather than guessing a recovery.
			return domain.Outcome{}, cerr
		}

		e.commit(ctx, state, graph, handler.ID(), res)

		e.logStep(ctx, domain.StepEntry{
			SessionID:    state.SessionID,
			Step:         step,
			Agent:        handler.ID(),
			Directive:    state.Directive,
			GraphVersion: graph.Version(),
			CreatedAt:    time.Now().UTC(),
		})
		e.publish(events.Event{
			SessionID: state.SessionID,
			Kind:      events.KindStep,
			Agent:     handler.ID(),
			Detail:    string(state.Directive),
			Version:   graph.Version(),
		})
	}
}

// invoke calls the handler, retrying gateway failures with backoff up to
// the configured bound. Every failed attempt leaves a feedback entry in
// the transcript so the retried call sees what went wrong.
func (e *Engine) invoke(ctx context.Context, h agent.Handler, state *domain.SessionState, graph *dsg.Graph) (agent.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.GatewayRetries; attempt++ {
		inv := agent.Invocation{
			State:          state.Clone(),
			Graph:          graph,
			LastApplyError: graph.LastApplyError(),
		}
		res, err := h.Handle(ctx, inv)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var gerr *gateway.Error
		if !errors.As(err, &gerr) {
			return agent.Result{}, err
		}
		e.logger.Printf("engine: session %s: agent %s attempt %d/%d failed: %v", state.SessionID, h.ID(), attempt, e.cfg.GatewayRetries, err)
		e.appendFeedback(state, fmt.Sprintf("attempt %d failed: %v", attempt, err))
		e.publish(events.Event{SessionID: state.SessionID, Kind: events.KindRetry, Agent: h.ID(), Detail: err.Error()})

		if attempt < e.cfg.GatewayRetries {
			select {
			case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return agent.Result{}, ctx.Err()
			}
		}
	}
	return agent.Result{}, lastErr
}

// commit is the single write path for SessionState and the graph. The
// graph mutation goes first: if it is rejected, plan-status changes in the
// delta are withheld so a failed mutation can never mark an item done, and
// the rejection is left on the graph for the supervisor to find.
func (e *Engine) commit(ctx context.Context, state *domain.SessionState, graph *dsg.Graph, id domain.AgentID, res agent.Result) {
	delta := res.Delta

	if res.Mutation != nil {
		mutation := *res.Mutation
		mutation.Agent = id
		if version, err := graph.Apply(mutation); err != nil {
			e.logger.Printf("engine: session %s: graph mutation by %s rejected: %v", state.SessionID, id, err)
			delta.ItemStatus = nil
			delta.ReplacePlan = nil
			delta.AppendMessages = append(delta.AppendMessages, feedbackEntry("graph mutation rejected: "+err.Error()))
		} else {
			e.persistGraph(ctx, state.SessionID, graph)
			e.publish(events.Event{SessionID: state.SessionID, Kind: events.KindGraph, Agent: id, Version: version})
		}
	}

	applyDelta(state, delta)

	state.Directive = res.Directive
	state.LastAgent = id

	switch res.Directive {
	case domain.DirectiveRequestHumanInput:
		state.ResumeAgent = id
	case domain.DirectiveValidationFailed:
		state.RetryCounts[router.Checkpoint(*state)]++
	default:
		if id != domain.AgentHuman {
			state.ResumeAgent = delta.SetResumeAgent
		}
	}
}

func applyDelta(state *domain.SessionState, delta domain.StateDelta) {
	for _, m := range delta.AppendMessages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Role == "" {
			m.Role = domain.RoleFeedback
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		state.Messages = append(state.Messages, m)
	}
	state.Requirements = append(state.Requirements, delta.AppendRequirements...)
	if len(delta.ReplacePlan) > 0 {
		state.Plan = append([]domain.PlanItem(nil), delta.ReplacePlan...)
	}
	for id, status := range delta.ItemStatus {
		for i := range state.Plan {
			if state.Plan[i].ID == id {
				state.Plan[i].Status = status
			}
		}
	}
	if len(delta.CoverRequirements) > 0 {
		covered := make(map[string]bool, len(delta.CoverRequirements))
		for _, id := range delta.CoverRequirements {
			covered[id] = true
		}
		for i := range state.Requirements {
			if covered[state.Requirements[i].ID] {
				state.Requirements[i].Covered = true
			}
		}
	}
}

func (e *Engine) appendFeedback(state *domain.SessionState, content string) {
	state.Messages = append(state.Messages, feedbackEntry(content))
}

func feedbackEntry(content string) domain.MessageEntry {
	return domain.MessageEntry{
		ID:        uuid.NewString(),
		Role:      domain.RoleFeedback,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func (e *Engine) persistGraph(ctx context.Context, sessionID string, graph *dsg.Graph) {
	if e.store == nil {
		return
	}
	doc, err := dsg.Save(graph)
	if err != nil {
		e.logger.Printf("engine: session %s: encode graph: %v", sessionID, err)
		return
	}
	if err := e.store.SaveGraph(ctx, sessionID, graph.Version(), doc); err != nil {
		e.logger.Printf("engine: session %s: persist graph v%d: %v", sessionID, graph.Version(), err)
	}
}

func (e *Engine) logStep(ctx context.Context, entry domain.StepEntry) {
	if e.store == nil {
		return
	}
	if err := e.store.LogStep(ctx, entry); err != nil {
		e.logger.Printf("engine: session %s: log step %d: %v", entry.SessionID, entry.Step, err)
	}
}

func (e *Engine) finish(state domain.SessionState, graph *dsg.Graph, outcome domain.Outcome) error {
	ctx := context.Background()
	if e.store != nil {
		if err := e.store.SaveSession(ctx, state, outcome); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if e.exporter != nil {
		doc, err := dsg.Save(graph)
		if err != nil {
			return fmt.Errorf("encode graph: %w", err)
		}
		if err := e.exporter.ExportGraph(state.SessionID, doc); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		if err := e.exporter.ExportTranscript(state.SessionID, state, outcome); err != nil {
			return fmt.Errorf("export transcript: %w", err)
		}
	}
	return nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
