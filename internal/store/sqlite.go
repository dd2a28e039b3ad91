// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Tasks and their progress events with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/2389/mesh-manager/internal/task"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open returns a MemoryStore for ":memory:" and a SQLiteStore otherwise.
func Open(path string, logger *slog.Logger) (Store, error) {
	if path == MemoryPath {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path, logger)
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps claim and complete transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			agent_type     TEXT NOT NULL,
			status         TEXT NOT NULL,
			payload        TEXT NOT NULL,
			result         TEXT,
			error          TEXT,
			origin_task_id TEXT,
			api_key        TEXT,
			latency_ms     INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			claimed_at     TEXT,

			CHECK (status IN ('waiting', 'running', 'finished', 'failed', 'expired'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_claim
			ON tasks(agent_type, status, created_at);

		CREATE INDEX IF NOT EXISTS idx_tasks_running
			ON tasks(status, claimed_at);

		CREATE TABLE IF NOT EXISTS task_events (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id),
			UNIQUE (task_id, seq)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	return string(data), err
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isConstraintViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// CreateTask inserts a waiting task.
func (s *SQLiteStore) CreateTask(ctx context.Context, rec *task.Record) error {
	payload, err := encodeMap(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, agent_type, status, payload, origin_task_id, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.AgentType,
		string(task.StatusWaiting),
		payload,
		nullString(rec.OriginTaskID),
		nullString(rec.APIKey),
		formatTime(rec.CreatedAt),
		formatTime(rec.CreatedAt),
	)
	if isConstraintViolation(err) {
		return ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	s.logger.Debug("created task", "task_id", rec.ID, "agent_type", rec.AgentType)
	return nil
}

// ClaimNextTask moves the oldest waiting task of agentType to running.
func (s *SQLiteStore) ClaimNextTask(ctx context.Context, agentType string, now time.Time) (*task.Record, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'running', claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE agent_type = ? AND status = 'waiting'
			ORDER BY created_at, rowid
			LIMIT 1
		)
		RETURNING id`,
		formatTime(now), formatTime(now), agentType,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask returns a task with its ordered events.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Record, error) {
	var (
		rec                        task.Record
		status                     string
		payload, result, errMsg    sql.NullString
		origin, apiKey             sql.NullString
		latencyMS                  int64
		createdAtStr, updatedAtStr string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_type, status, payload, result, error, origin_task_id, api_key,
		       latency_ms, created_at, updated_at
		FROM tasks WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.AgentType, &status, &payload, &result, &errMsg, &origin, &apiKey,
		&latencyMS, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}

	rec.Status = task.Status(status)
	rec.Error = errMsg.String
	rec.OriginTaskID = origin.String
	rec.APIKey = apiKey.String
	rec.Latency = time.Duration(latencyMS) * time.Millisecond

	if rec.Payload, err = decodeMap(payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if rec.Result, err = decodeMap(result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if rec.Events, err = s.events(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) events(ctx context.Context, taskID string) ([]task.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, content, created_at FROM task_events
		WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []task.Event
	for rows.Next() {
		var ev task.Event
		var ts string
		if err := rows.Scan(&ev.Seq, &ev.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) statusTx(ctx context.Context, tx *sql.Tx, id string) (task.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("querying task status: %w", err)
	}
	return task.Status(status), nil
}

// insertEventTx stores ev, assigning a seq when it is zero. It reports false
// for a duplicate seq.
func insertEventTx(ctx context.Context, tx *sql.Tx, taskID string, ev task.Event) (bool, error) {
	if ev.Seq == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?`, taskID,
		).Scan(&ev.Seq); err != nil {
			return false, fmt.Errorf("allocating seq: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_events (id, task_id, seq, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ulid.Make().String(), taskID, ev.Seq, ev.Content, formatTime(ev.Timestamp),
	)
	if err != nil {
		return false, fmt.Errorf("inserting event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendEvent stores one progress event for a non-terminal task.
func (s *SQLiteStore) AppendEvent(ctx context.Context, taskID string, ev task.Event) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.statusTx(ctx, tx, taskID)
	if err != nil {
		return false, err
	}
	if status.Terminal() {
		return false, ErrAlreadyCompleted
	}

	added, err := insertEventTx(ctx, tx, taskID, ev)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), taskID); err != nil {
		return false, fmt.Errorf("touching task: %w", err)
	}
	return added, tx.Commit()
}

// CompleteTask records a task's final result exactly once.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, c Completion) error {
	result, err := encodeMap(c.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.statusTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrAlreadyCompleted
	}

	for _, ev := range c.Events {
		if _, err := insertEventTx(ctx, tx, id, ev); err != nil {
			return err
		}
	}

	var resultArg any
	if c.Status == task.StatusFinished {
		resultArg = result
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, latency_ms = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), resultArg, nullString(c.Error), c.Latency.Milliseconds(), formatTime(c.At), id,
	); err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing completion: %w", err)
	}
	s.logger.Debug("completed task", "task_id", id, "status", c.Status)
	return nil
}

// ExpireRunning expires tasks claimed before cutoff.
func (s *SQLiteStore) ExpireRunning(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks SET status = 'expired', error = ?, updated_at = ?
		WHERE status = 'running' AND claimed_at < ?
		RETURNING id`,
		ExpiredMessage, formatTime(now), formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("expiring tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns task counts per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[task.Status(status)] = n
	}
	return counts, rows.Err()
}
