// Package persistence is the SQLite-backed storage layer every other
// component writes terminal state through: workers, sessions, tool calls,
// pipelines, conversations, security alerts, elevations, and cost history.
// A single file, opened in WAL mode with a serialized writer so concurrent
// components (worker manager, hook server, security monitor, elevation
// channel, pipeline driver) can all hold a *Store without racing on
// SQLite's single-writer constraint.
//
// Grounded on the teacher's internal/artifacts/sql_repository.go (prepared
// statements per operation, a logger field, TTL-aware cleanup) adapted
// from Postgres-style artifact metadata to the Ralphline schema, and
// backed by modernc.org/sqlite (pure Go, no cgo) rather than the teacher's
// artifact store's generic database/sql.DB + external driver pairing.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ralphline/ralphline/pkg/models"
)

// Store wraps a SQLite connection. All mutating calls funnel through a
// single mutex: SQLite allows only one writer at a time, so rather than
// let callers hit SQLITE_BUSY under concurrent load this serializes writes
// in process, matching the teacher's single-writer-queue convention
// referenced in SPEC_FULL's persistence design.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	wmu    sync.Mutex
}

// Open creates or attaches to a SQLite database file at path, enables WAL
// mode and a busy timeout, and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "persistence")}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- worker.Store ---

// SaveWorker upserts a run row for the given worker.
func (s *Store) SaveWorker(ctx context.Context, w *models.Worker) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var exitCode any
	if w.ExitCode != nil {
		exitCode = *w.ExitCode
	}
	var endedAt any
	if !w.LastActivity.IsZero() && w.Terminal() {
		endedAt = w.LastActivity
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (worker_id, working_dir, status, started_at, ended_at, exit_code, initial_prompt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			exit_code = excluded.exit_code`,
		w.ID, w.WorkingDir, w.Status, w.StartedAt, endedAt, exitCode, w.Config.Command)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	return nil
}

// SaveSession upserts a session row.
func (s *Store) SaveSession(ctx context.Context, sess *models.WorkerSession) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, worker_id, started_at, ended_at, status, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd`,
		sess.SessionID, sess.WorkerID, sess.StartedAt, nullTime(sess.EndedAt), sess.Status,
		sess.InputTokens, sess.OutputTokens, sess.CostUSD)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.SessionID, err)
	}
	return nil
}

// SealSession marks a session terminal.
func (s *Store) SealSession(ctx context.Context, sessionID string, status models.SessionStatus, endedAt time.Time) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ?`,
		status, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("seal session %s: %w", sessionID, err)
	}
	return nil
}

// SaveOutputEvent appends one parsed stdout line and, when it carries
// usage, a matching cost_history row.
func (s *Store) SaveOutputEvent(ctx context.Context, e *models.OutputEvent) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO output_events (worker_id, session_id, ts, kind, raw, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.WorkerID, e.SessionID, e.Timestamp, e.Kind, e.Raw, e.Status)
	if err != nil {
		return fmt.Errorf("save output event: %w", err)
	}

	if e.Usage != nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cost_history (ts, worker_id, session_id, model, input_tokens, output_tokens, cost_usd)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp, e.WorkerID, e.SessionID, "", e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.TotalCostUSD)
		if err != nil {
			return fmt.Errorf("save cost history: %w", err)
		}
	}
	return nil
}

// ListRunningWorkers returns every run row still marked "running", used by
// ReconcileOnStartup to detect workers orphaned by an unclean shutdown.
func (s *Store) ListRunningWorkers(ctx context.Context) ([]*models.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, working_dir, status, started_at, initial_prompt FROM runs WHERE status = ?`,
		models.WorkerRunning)
	if err != nil {
		return nil, fmt.Errorf("list running workers: %w", err)
	}
	defer rows.Close()

	var out []*models.Worker
	for rows.Next() {
		w := &models.Worker{}
		if err := rows.Scan(&w.ID, &w.WorkingDir, &w.Status, &w.StartedAt, &w.Config.Command); err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- hook server / tool calls ---

// SaveToolCall upserts a tool_calls row, covering both the pending
// PreToolUse write and the later PostToolUse update.
func (s *Store) SaveToolCall(ctx context.Context, e *models.HookToolEvent) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var execMs any
	if e.ExecutionTimeMs != nil {
		execMs = *e.ExecutionTimeMs
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (tool_call_id, worker_id, session_id, tool_name, input_json, response_json, status, execution_time_ms, pre_ts, post_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool_call_id) DO UPDATE SET
			response_json = excluded.response_json,
			status = excluded.status,
			execution_time_ms = excluded.execution_time_ms,
			post_ts = excluded.post_ts`,
		e.ToolCallID, e.WorkerID, e.SessionID, e.ToolName,
		string(e.Input), string(e.Output), e.Status, execMs, e.PreTimestamp, nullTime(e.PostTimestamp))
	if err != nil {
		return fmt.Errorf("save tool call %s: %w", e.ToolCallID, err)
	}
	return nil
}

// --- security alerts ---

// SaveAlert persists a SecurityAlert row.
func (s *Store) SaveAlert(ctx context.Context, a *models.SecurityAlert) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, worker_id, session_id, tool_call_id, severity, category, evidence_json, action, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.WorkerID, a.SessionID, a.ToolCallID, a.Severity, a.Category,
		string(a.Evidence), a.RecommendedAction, a.Timestamp)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.AlertID, err)
	}
	return nil
}

// --- elevations ---

// SaveElevation upserts a PendingElevation row.
func (s *Store) SaveElevation(ctx context.Context, e *models.PendingElevation) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO elevations (id, worker_id, command, risk, status, requested_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at`,
		e.ID, e.WorkerID, e.Command, e.RiskLevel, e.Status, e.RequestedAt, e.ExpiresAt, nullTime(e.ResolvedAt))
	if err != nil {
		return fmt.Errorf("save elevation %s: %w", e.ID, err)
	}
	return nil
}

// --- pipelines ---

// SavePipeline upserts a pipeline's top-level row.
func (s *Store) SavePipeline(ctx context.Context, p *models.Pipeline) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	cfgJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal pipeline config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (pipeline_id, working_dir, user_request, status, config_json, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pipeline_id) DO UPDATE SET
			status = excluded.status,
			last_activity = excluded.last_activity`,
		p.ID, p.WorkingDir, p.UserRequest, p.Status, string(cfgJSON), p.CreatedAt, p.LastActivity)
	if err != nil {
		return fmt.Errorf("save pipeline %s: %w", p.ID, err)
	}
	return nil
}

// SavePipelineEvent appends a phase-transition/event row for a pipeline.
func (s *Store) SavePipelineEvent(ctx context.Context, pipelineID, kind string, payload any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pipeline event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_events (pipeline_id, kind, payload_json, ts) VALUES (?, ?, ?, ?)`,
		pipelineID, kind, string(payloadJSON), time.Now())
	if err != nil {
		return fmt.Errorf("save pipeline event: %w", err)
	}
	return nil
}

// --- conversations ---

// SaveConversationMessage appends a turn to a conversation, creating the
// conversation row on first use.
func (s *Store) SaveConversationMessage(ctx context.Context, conversationID, role string, content any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	now := time.Now()
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal conversation content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, created_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET last_activity = excluded.last_activity`,
		conversationID, now, now)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conversationID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content_json, ts) VALUES (?, ?, ?, ?)`,
		conversationID, role, string(contentJSON), now)
	if err != nil {
		return fmt.Errorf("save conversation message: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
