package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SoheylM/agentic-eng-design/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	temperature REAL NOT NULL,
	runs INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL DEFAULT '',
	request TEXT NOT NULL,
	state TEXT NOT NULL,
	outcome_kind TEXT NOT NULL DEFAULT '',
	outcome_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_batch ON sessions(batch_id, created_at);

CREATE TABLE IF NOT EXISTS graphs (
	session_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	doc TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY(session_id, version)
);

CREATE TABLE IF NOT EXISTS step_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	agent TEXT NOT NULL,
	directive TEXT NOT NULL,
	graph_version INTEGER NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_log_session ON step_log(session_id, step);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, b domain.Batch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batches(id, variant, temperature, runs, created_at) VALUES(?, ?, ?, ?, ?)`,
		b.ID, string(b.Variant), b.Temperature, b.Runs, b.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, variant, temperature, runs, created_at FROM batches WHERE id = ?`,
		batchID,
	)
	var b domain.Batch
	var variant string
	var created int64
	if err := row.Scan(&b.ID, &variant, &b.Temperature, &b.Runs, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Batch{}, ErrNotFound
		}
		return domain.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	b.Variant = domain.Variant(variant)
	b.CreatedAt = time.Unix(created, 0).UTC()
	return b, nil
}

// BindSession attaches a session to a batch before the run starts so a
// crashed run still shows up under its batch.
func (s *Store) BindSession(ctx context.Context, sessionID, batchID, request string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(id, batch_id, request, state, created_at, updated_at)
		 VALUES(?, ?, ?, '{}', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET batch_id = excluded.batch_id, updated_at = excluded.updated_at`,
		sessionID, batchID, request, now, now,
	)
	if err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	return nil
}

func (s *Store) SaveSession(ctx context.Context, state domain.SessionState, outcome domain.Outcome) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	now := time.Now().UTC().Unix()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(id, request, state, outcome_kind, outcome_reason, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			outcome_kind = excluded.outcome_kind,
			outcome_reason = excluded.outcome_reason,
			updated_at = excluded.updated_at`,
		state.SessionID, state.Request, string(encoded), string(outcome.Kind), outcome.Reason, now, now,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.SessionState, domain.Outcome, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT state, outcome_kind, outcome_reason FROM sessions WHERE id = ?`,
		sessionID,
	)
	var encoded, kind, reason string
	if err := row.Scan(&encoded, &kind, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionState{}, domain.Outcome{}, ErrNotFound
		}
		return domain.SessionState{}, domain.Outcome{}, fmt.Errorf("get session: %w", err)
	}
	var state domain.SessionState
	if err := json.Unmarshal([]byte(encoded), &state); err != nil {
		return domain.SessionState{}, domain.Outcome{}, fmt.Errorf("decode session state: %w", err)
	}
	return state, domain.Outcome{Kind: domain.OutcomeKind(kind), Reason: reason}, nil
}

func (s *Store) ListSessions(ctx context.Context, batchID string) ([]domain.SessionRecord, error) {
	query := `SELECT id, batch_id, request, outcome_kind, outcome_reason, created_at, updated_at
		FROM sessions ORDER BY created_at DESC, id`
	args := []any{}
	if batchID != "" {
		query = `SELECT id, batch_id, request, outcome_kind, outcome_reason, created_at, updated_at
			FROM sessions WHERE batch_id = ? ORDER BY created_at DESC, id`
		args = append(args, batchID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var kind, reason string
		var created, updated int64
		if err := rows.Scan(&rec.SessionID, &rec.BatchID, &rec.Request, &kind, &reason, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Outcome = domain.Outcome{Kind: domain.OutcomeKind(kind), Reason: reason}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		rec.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveGraph(ctx context.Context, sessionID string, version int, doc []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO graphs(session_id, version, doc, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id, version) DO UPDATE SET doc = excluded.doc`,
		sessionID, version, string(doc), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

// LoadGraph returns the latest persisted graph document for the session.
func (s *Store) LoadGraph(ctx context.Context, sessionID string) ([]byte, int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT doc, version FROM graphs WHERE session_id = ? ORDER BY version DESC LIMIT 1`,
		sessionID,
	)
	var doc string
	var version int
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("load graph: %w", err)
	}
	return []byte(doc), version, nil
}

func (s *Store) LogStep(ctx context.Context, entry domain.StepEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO step_log(session_id, step, agent, directive, graph_version, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Step, string(entry.Agent), string(entry.Directive),
		entry.GraphVersion, entry.Detail, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("log step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, sessionID string, limit int) ([]domain.StepEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id, step, agent, directive, graph_version, detail, created_at
		 FROM step_log WHERE session_id = ? ORDER BY step LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.StepEntry
	for rows.Next() {
		var entry domain.StepEntry
		var agent, directive string
		var created int64
		if err := rows.Scan(&entry.SessionID, &entry.Step, &agent, &directive, &entry.GraphVersion, &entry.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		entry.Agent = domain.AgentID(agent)
		entry.Directive = domain.Directive(directive)
		entry.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}
