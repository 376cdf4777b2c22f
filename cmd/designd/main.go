package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/SoheylM/agentic-eng-design/internal/agent"
	"github.com/SoheylM/agentic-eng-design/internal/config"
	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/engine"
	"github.com/SoheylM/agentic-eng-design/internal/events"
	"github.com/SoheylM/agentic-eng-design/internal/evolve"
	"github.com/SoheylM/agentic-eng-design/internal/fs"
	"github.com/SoheylM/agentic-eng-design/internal/gateway"
	sqlitestore "github.com/SoheylM/agentic-eng-design/internal/store/sqlite"
	"github.com/SoheylM/agentic-eng-design/internal/tool"
)

const (
	exitCompleted     = 0
	exitAborted       = 1
	exitAwaitingHuman = 2
)

func main() {
	var (
		configPath  string
		dbPath      string
		runsDir     string
		variant     string
		temperature float64
		runCount    int
	)

	root := &cobra.Command{
		Use:          "designd",
		Short:        "Multi-agent engineering design workflows",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default: ~/.designd/config.toml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path override")

	runCmd := &cobra.Command{
		Use:   "run <design-request>",
		Short: "Run design sessions for one request and report a batch id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), loadConfig(configPath, dbPath, runsDir),
				strings.Join(args, " "), domain.Variant(variant), temperature, runCount)
		},
	}
	runCmd.Flags().StringVar(&variant, "variant", string(domain.VariantFull), "workflow variant: full or pair")
	runCmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature override")
	runCmd.Flags().IntVar(&runCount, "runs", 1, "number of sessions to run")
	runCmd.Flags().StringVar(&runsDir, "runs-dir", "", "run artifact directory override")

	var batchID string
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSessions(cmd.Context(), loadConfig(configPath, dbPath, ""), batchID)
		},
	}
	sessionsCmd.Flags().StringVar(&batchID, "batch", "", "only sessions of this batch")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's outcome and step log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSession(cmd.Context(), loadConfig(configPath, dbPath, ""), args[0])
		},
	}

	root.AddCommand(runCmd, sessionsCmd, showCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		var xerr *exitError
		if errors.As(err, &xerr) {
			os.Exit(xerr.code)
		}
		log.Fatalf("designd: %v", err)
	}
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func loadConfig(path, dbOverride, runsOverride string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if path != "" {
			log.Fatalf("load config: %v", err)
		}
		cfg = config.Default()
	}
	if dbOverride != "" {
		cfg.Store.DBPath = dbOverride
	}
	if runsOverride != "" {
		cfg.Runs.Dir = runsOverride
	}
	return cfg
}

func openStore(ctx context.Context, cfg config.Config) (*sqlitestore.Store, error) {
	dbPath := filepath.Clean(cfg.Store.DBPath)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func runBatch(ctx context.Context, cfg config.Config, request string, variant domain.Variant, temperature float64, runCount int) error {
	if variant != domain.VariantFull && variant != domain.VariantPair {
		return fmt.Errorf("unknown variant %q", variant)
	}
	if runCount <= 0 {
		runCount = 1
	}
	if temperature <= 0 {
		temperature = cfg.Gateway.Temperature
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	exporter, err := fs.NewExporter(cfg.Runs.Dir)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "designd ", log.LstdFlags)
	gw := gateway.NewOpenAI(gateway.OpenAIConfig{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey(),
		Model:   cfg.Gateway.Model,
		Timeout: time.Duration(cfg.Gateway.TimeoutMS) * time.Millisecond,
	}, logger)

	bus := events.NewBus(256)
	ch, cancelSub := bus.Subscribe()
	defer cancelSub()
	go func() {
		for ev := range ch {
			switch ev.Kind {
			case events.KindStep:
				logger.Printf("session %s: %s -> %s (graph v%d)", ev.SessionID, ev.Agent, ev.Detail, ev.Version)
			case events.KindGeneration:
				logger.Printf("session %s: %s", ev.SessionID, ev.Detail)
			}
		}
	}()

	eng := buildEngine(cfg, gw, variant, float32(temperature), store, exporter, bus, logger)

	batch := domain.Batch{
		ID:          "batch-" + uuid.NewString(),
		Variant:     variant,
		Temperature: temperature,
		Runs:        runCount,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreateBatch(ctx, batch); err != nil {
		return err
	}
	fmt.Println("batch:", batch.ID)

	worst := exitCompleted
	for i := 0; i < runCount; i++ {
		sessionID := "session-" + uuid.NewString()
		if err := store.BindSession(ctx, sessionID, batch.ID, request); err != nil {
			return err
		}

		_, graph, outcome, err := eng.Run(ctx, sessionID, request)
		if err != nil {
			logger.Printf("session %s: %v", sessionID, err)
		}
		fmt.Printf("session %s: %s", sessionID, outcome.Kind)
		if outcome.Reason != "" {
			fmt.Printf(" (%s)", outcome.Reason)
		}
		fmt.Printf(", graph v%d\n", graph.Version())

		if err := exporter.ExportScripts(sessionID, graph); err != nil {
			logger.Printf("session %s: export scripts: %v", sessionID, err)
		}

		if code := exitCode(outcome); code > worst {
			worst = code
		}
	}

	if worst != exitCompleted {
		return &exitError{code: worst, msg: "batch finished with non-completed sessions"}
	}
	return nil
}

func exitCode(outcome domain.Outcome) int {
	switch outcome.Kind {
	case domain.OutcomeCompleted:
		return exitCompleted
	case domain.OutcomeAwaitingHuman:
		return exitAwaitingHuman
	default:
		return exitAborted
	}
}

func buildEngine(cfg config.Config, gw gateway.Gateway, variant domain.Variant, temperature float32, store *sqlitestore.Store, exporter *fs.Exporter, bus *events.Bus, logger *log.Logger) *engine.Engine {
	evolveCfg := evolve.Config{
		PopulationSize:  cfg.Evolution.PopulationSize,
		SurvivorCount:   cfg.Evolution.SurvivorCount,
		MetaReviewEvery: cfg.Evolution.MetaReviewEvery,
		Epsilon:         cfg.Evolution.Epsilon,
		MaxGenerations:  cfg.Evolution.MaxGenerations,
	}

	// Tool implementations are external; embedders register theirs here.
	tools := tool.NewRegistry()

	observer := func(sessionID string, generation int, survivors []domain.Candidate) {
		detail := fmt.Sprintf("generation %d: %d survivors", generation, len(survivors))
		if len(survivors) > 0 && survivors[0].Score != nil {
			detail = fmt.Sprintf("generation %d: best %.3f, %d survivors", generation, *survivors[0].Score, len(survivors))
		}
		bus.Publish(events.Event{
			SessionID: sessionID,
			Kind:      events.KindGeneration,
			Agent:     domain.AgentWorker,
			Detail:    detail,
		})
	}

	registry := agent.NewRegistry(
		agent.NewRequirements(gw, temperature, logger),
		agent.NewPlanner(gw, temperature, logger),
		agent.NewWorker(gw, variant, evolveCfg, temperature, observer, tools, logger),
		agent.NewSupervisor(cfg.Supervisor.CoverageThreshold, logger),
		agent.NewSynthesizer(gw, temperature, logger),
		agent.NewHuman(stdinInput{}),
	)

	return engine.New(registry, store, exporter, bus, engine.Config{
		StepBudget:        cfg.Engine.StepBudget,
		GatewayRetries:    cfg.Engine.GatewayRetries,
		RetryBackoff:      time.Duration(cfg.Engine.RetryBackoffMS) * time.Millisecond,
		ValidationRetries: cfg.Engine.ValidationRetries,
	}, logger)
}

// stdinInput answers request-human-input directives from the terminal.
type stdinInput struct{}

func (stdinInput) Ask(ctx context.Context, sessionID, prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n[%s] %s\n> ", sessionID, prompt)
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()
	select {
	case line := <-lines:
		return line, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func listSessions(ctx context.Context, cfg config.Config, batchID string) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListSessions(ctx, batchID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		outcome := string(rec.Outcome.Kind)
		if outcome == "" {
			outcome = "running"
		}
		fmt.Printf("%s  %-14s  %s  %s\n", rec.SessionID, outcome, rec.UpdatedAt.Format(time.RFC3339), rec.Request)
	}
	return nil
}

func showSession(ctx context.Context, cfg config.Config, sessionID string) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	state, outcome, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\noutcome: %s", sessionID, outcome.Kind)
	if outcome.Reason != "" {
		fmt.Printf(" (%s)", outcome.Reason)
	}
	fmt.Printf("\nrequest: %s\n", state.Request)

	covered := 0
	for _, r := range state.Requirements {
		if r.Covered {
			covered++
		}
	}
	fmt.Printf("requirements: %d (%d covered)\n", len(state.Requirements), covered)
	for _, item := range state.Plan {
		fmt.Printf("  [%s] %s\n", item.Status, item.Description)
	}

	if _, version, err := store.LoadGraph(ctx, sessionID); err == nil {
		fmt.Printf("graph: v%d\n", version)
	}

	steps, err := store.ListSteps(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	fmt.Println("steps:")
	for _, s := range steps {
		fmt.Printf("  %3d  %-12s  %-24s  graph v%d\n", s.Step, s.Agent, s.Directive, s.GraphVersion)
	}
	return nil
}
