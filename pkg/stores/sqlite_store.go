package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/deploykit/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run journal statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// SQLiteBackend stores progress documents and the run journal in SQLite.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite backend configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite backend instance. Call Init and Migrate before use.
func NewSQLiteBackend(cfg Config) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return &SQLiteBackend{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database and applies connection PRAGMAs.
func (s *SQLiteBackend) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteBackend) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteBackend) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Load reads the progress document for key.
func (s *SQLiteBackend) Load(ctx context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT document
		FROM progress_documents
		WHERE environment = ? AND scenario = ? AND mode = ?
	`

	var raw string
	err := s.db.QueryRowContext(ctx, query, key.Environment, key.Scenario, string(key.Mode)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode progress document: %w", err)
	}
	return &doc, nil
}

// Save upserts the full progress document for key in one transaction.
func (s *SQLiteBackend) Save(ctx context.Context, key Key, doc *Document) error {
	if err := key.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode progress document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO progress_documents (environment, scenario, mode, status, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (environment, scenario, mode) DO UPDATE SET
			status = excluded.status,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		key.Environment,
		key.Scenario,
		string(key.Mode),
		doc.DeploymentStatus,
		string(data),
		formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save progress document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress document: %w", err)
	}
	return nil
}

// Delete removes the progress document for key.
func (s *SQLiteBackend) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	query := `DELETE FROM progress_documents WHERE environment = ? AND scenario = ? AND mode = ?`
	if _, err := s.db.ExecContext(ctx, query, key.Environment, key.Scenario, string(key.Mode)); err != nil {
		return fmt.Errorf("failed to delete progress document: %w", err)
	}
	return nil
}

// List returns keys of stored documents, optionally for one environment.
func (s *SQLiteBackend) List(ctx context.Context, env string) ([]Key, error) {
	query := `
		SELECT environment, scenario, mode
		FROM progress_documents
		WHERE (? = '' OR environment = ?)
		ORDER BY environment, scenario, mode
	`

	rows, err := s.db.QueryContext(ctx, query, env, env)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress documents: %w", err)
	}
	defer rows.Close()

	keys := []Key{}
	for rows.Next() {
		var key Key
		var mode string
		if err := rows.Scan(&key.Environment, &key.Scenario, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan progress key: %w", err)
		}
		key.Mode = Mode(mode)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress keys: %w", err)
	}
	return keys, nil
}

// RecordEvent appends an engine event to the journal and keeps the run row current.
func (s *SQLiteBackend) RecordEvent(ctx context.Context, event telemetry.Event) error {
	if event.RunID == "" {
		return fmt.Errorf("event %s has no run ID", event.Type)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	mode := event.Mode
	if mode == "" {
		mode = string(ModeCommit)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, environment, scenario, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, event.RunID, event.Environment, event.Scenario, mode, RunStatusRunning, formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	if status, ok := terminalRunStatus(event); ok {
		var errMsg *string
		if reason, ok := event.Data["reason"].(string); ok && reason != "" {
			errMsg = &reason
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, completed_at = ?, error = ?
			WHERE id = ?
		`, status, formatTime(event.Timestamp), errMsg, event.RunID)
		if err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}
	}

	var data *string
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		str := string(raw)
		data = &str
	}
	var step *string
	if event.Step != "" {
		step = &event.Step
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, step, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.RunID, event.Type, step, event.Level, event.Message, data, formatTime(event.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// JournalSubscriber returns an event subscriber that writes engine events to the journal.
// Write failures are logged; the journal never fails a run. Events published after
// ctx is cancelled are still recorded so a cancelled run reaches its terminal status.
func (s *SQLiteBackend) JournalSubscriber(ctx context.Context) telemetry.EventSubscriber {
	ctx = context.WithoutCancel(ctx)
	return func(event telemetry.Event) {
		if err := s.RecordEvent(ctx, event); err != nil {
			log.Warn().Err(err).Str("event", event.Type).Str("run_id", event.RunID).Msg("failed to journal event")
		}
	}
}

func terminalRunStatus(event telemetry.Event) (string, bool) {
	switch event.Type {
	case telemetry.EventTypeRunCompleted:
		return RunStatusSucceeded, true
	case telemetry.EventTypeRunFailed:
		if cancelled, _ := event.Data["cancelled"].(bool); cancelled {
			return RunStatusCancelled, true
		}
		return RunStatusFailed, true
	default:
		return "", false
	}
}

// GetRun retrieves a run by ID
func (s *SQLiteBackend) GetRun(ctx context.Context, id string) (*RunEntry, error) {
	query := `
		SELECT id, environment, scenario, mode, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first, optionally for one environment.
func (s *SQLiteBackend) ListRuns(ctx context.Context, env string, limit, offset int) ([]*RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, environment, scenario, mode, status, started_at, completed_at, error
		FROM runs
		WHERE (? = '' OR environment = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, env, env, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunEntry{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ListEvents returns the journal events of one run in order.
func (s *SQLiteBackend) ListEvents(ctx context.Context, runID string) ([]*EventEntry, error) {
	query := `
		SELECT id, run_id, type, step, level, message, data, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*EventEntry{}
	for rows.Next() {
		var (
			event      EventEntry
			step, data sql.NullString
			ts         string
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.Type, &step, &event.Level, &event.Message, &data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Step = step.String
		event.Data = data.String
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunEntry, error) {
	var (
		run         RunEntry
		mode        string
		startedAt   string
		completedAt sql.NullString
		errMsg      sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Environment, &run.Scenario, &mode, &run.Status, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Mode = Mode(mode)

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
