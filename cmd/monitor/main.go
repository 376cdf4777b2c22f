package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/SoheylM/agentic-eng-design/internal/config"
	"github.com/SoheylM/agentic-eng-design/internal/domain"
	sqlitestore "github.com/SoheylM/agentic-eng-design/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.designd/config.toml)")
	dbPath := flag.String("db", "", "sqlite database path override")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath != "" {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	if *dbPath != "" {
		cfg.Store.DBPath = *dbPath
	}

	store, err := sqlitestore.Open(cfg.Store.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate store: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()

	sessionsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	sessionsTable.SetTitle("Sessions (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	planView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	planView.SetTitle("Plan & Requirements").SetBorder(true)

	stepsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	stepsView.SetTitle("Step Log").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetTitle("Status").SetBorder(true)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(sessionsTable, 0, 2, true).
		AddItem(tview.NewFlex().
			AddItem(planView, 0, 1, false).
			AddItem(stepsView, 0, 2, false), 0, 3, false).
		AddItem(statusView, 3, 0, false)

	var sessionIDs []string

	refreshSessions := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		records, err := store.ListSessions(ctx, "")
		if err != nil {
			statusView.SetText(fmt.Sprintf("[red]list sessions: %v", err))
			return
		}

		sessionsTable.Clear()
		headers := []string{"SESSION", "BATCH", "OUTCOME", "UPDATED", "REQUEST"}
		for col, h := range headers {
			sessionsTable.SetCell(0, col, tview.NewTableCell("[yellow]"+h).SetSelectable(false))
		}
		sessionIDs = sessionIDs[:0]
		for row, rec := range records {
			outcome := string(rec.Outcome.Kind)
			if outcome == "" {
				outcome = "running"
			}
			sessionIDs = append(sessionIDs, rec.SessionID)
			sessionsTable.SetCell(row+1, 0, tview.NewTableCell(rec.SessionID))
			sessionsTable.SetCell(row+1, 1, tview.NewTableCell(rec.BatchID))
			sessionsTable.SetCell(row+1, 2, tview.NewTableCell(colorOutcome(outcome)))
			sessionsTable.SetCell(row+1, 3, tview.NewTableCell(rec.UpdatedAt.Format(time.RFC3339)))
			sessionsTable.SetCell(row+1, 4, tview.NewTableCell(trimText(rec.Request, 60)))
		}
		statusView.SetText(fmt.Sprintf("%d sessions, refreshed %s", len(records), time.Now().Format(time.RFC3339)))
	}

	inspect := func(sessionID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		state, outcome, err := store.GetSession(ctx, sessionID)
		if err != nil {
			statusView.SetText(fmt.Sprintf("[red]get session %s: %v", sessionID, err))
			return
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "[yellow]outcome:[-] %s %s\n\n", outcome.Kind, outcome.Reason)
		fmt.Fprintf(&sb, "[yellow]requirements:[-]\n")
		for _, r := range state.Requirements {
			mark := "[red]open[-]"
			if r.Covered {
				mark = "[green]covered[-]"
			}
			fmt.Fprintf(&sb, "  %s %s (%s)\n", r.ID, trimText(r.Text, 40), mark)
		}
		fmt.Fprintf(&sb, "\n[yellow]plan:[-]\n")
		for _, item := range state.Plan {
			fmt.Fprintf(&sb, "  [%s] %s\n", item.Status, trimText(item.Description, 50))
		}
		planView.SetText(sb.String())

		steps, err := store.ListSteps(ctx, sessionID, 0)
		if err != nil {
			statusView.SetText(fmt.Sprintf("[red]list steps: %v", err))
			return
		}
		var st strings.Builder
		for _, s := range steps {
			fmt.Fprintf(&st, "%3d  %-12s  %-24s  graph v%d  %s\n",
				s.Step, s.Agent, s.Directive, s.GraphVersion, s.CreatedAt.Format("15:04:05"))
		}
		stepsView.SetText(st.String())
	}

	sessionsTable.SetSelectedFunc(func(row, _ int) {
		if row >= 1 && row-1 < len(sessionIDs) {
			inspect(sessionIDs[row-1])
		}
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			refreshSessions()
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for range ticker.C {
			app.QueueUpdateDraw(refreshSessions)
		}
	}()

	refreshSessions()
	if err := app.SetRoot(layout, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func colorOutcome(outcome string) string {
	switch domain.OutcomeKind(outcome) {
	case domain.OutcomeCompleted:
		return "[green]" + outcome
	case domain.OutcomeAwaitingHuman:
		return "[yellow]" + outcome
	case domain.OutcomeAborted:
		return "[red]" + outcome
	}
	return outcome
}

func trimText(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
