package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := domain.NewSessionState("s-1", "design a gravity-fed water filter")
	state.Requirements = []domain.Requirement{{ID: "req-1", Text: "filters 2 L/min", Covered: true}}
	state.Plan = []domain.PlanItem{{ID: "task-1", Description: "filter stack", Status: domain.PlanStatusDone}}
	state.RetryCounts["task-1"] = 1
	state.Directive = domain.DirectiveTerminate

	if err := s.SaveSession(ctx, state, domain.Completed()); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, outcome, err := s.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if outcome.Kind != domain.OutcomeCompleted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if loaded.Request != state.Request || len(loaded.Requirements) != 1 || loaded.RetryCounts["task-1"] != 1 {
		t.Fatalf("loaded state = %+v", loaded)
	}

	// Saving again overwrites, it does not duplicate.
	if err := s.SaveSession(ctx, state, domain.AwaitingHuman("operator requested")); err != nil {
		t.Fatalf("second save: %v", err)
	}
	_, outcome, err = s.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if outcome.Kind != domain.OutcomeAwaitingHuman || outcome.Reason != "operator requested" {
		t.Fatalf("outcome after update = %+v", outcome)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.GetSession(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestBatchBindsSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := domain.Batch{ID: "b-1", Variant: domain.VariantPair, Temperature: 0.5, Runs: 2}
	if err := s.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	for _, id := range []string{"s-1", "s-2"} {
		if err := s.BindSession(ctx, id, "b-1", "request"); err != nil {
			t.Fatalf("bind %s: %v", id, err)
		}
	}
	if err := s.SaveSession(ctx, domain.NewSessionState("s-1", "request"), domain.Completed()); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := s.GetBatch(ctx, "b-1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.Variant != domain.VariantPair || got.Runs != 2 {
		t.Fatalf("batch = %+v", got)
	}

	records, err := s.ListSessions(ctx, "b-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("sessions in batch = %d, want 2", len(records))
	}
	var sawOutcome bool
	for _, rec := range records {
		if rec.SessionID == "s-1" && rec.Outcome.Kind == domain.OutcomeCompleted {
			sawOutcome = true
		}
	}
	if !sawOutcome {
		t.Fatal("outcome not visible on batch listing")
	}
}

func TestGraphVersionsPersist(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveGraph(ctx, "s-1", 1, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := s.SaveGraph(ctx, "s-1", 2, []byte(`{"version":2}`)); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	doc, version, err := s.LoadGraph(ctx, "s-1")
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	if version != 2 || string(doc) != `{"version":2}` {
		t.Fatalf("latest graph = v%d %s", version, doc)
	}

	if _, _, err := s.LoadGraph(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStepLogOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for step, agent := range []domain.AgentID{domain.AgentRequirements, domain.AgentPlanner, domain.AgentWorker} {
		err := s.LogStep(ctx, domain.StepEntry{
			SessionID: "s-1",
			Step:      step + 1,
			Agent:     agent,
			Directive: domain.DirectiveContinue,
		})
		if err != nil {
			t.Fatalf("log step: %v", err)
		}
	}

	steps, err := s.ListSteps(ctx, "s-1", 0)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %d", len(steps))
	}
	if steps[0].Agent != domain.AgentRequirements || steps[2].Agent != domain.AgentWorker {
		t.Fatalf("step order wrong: %+v", steps)
	}
}
