package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/poolhand/poolhand/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run or step lookup matches nothing.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Connection-level setting, the DSN flag alone is not enough for every
	// pooled connection.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateRun inserts a new run record. Status defaults to running.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, operation, environment, status, started_at, completed_at, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Operation,
		run.Environment,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Report,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run terminal with its final status and optional error.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return requireRow(result, "run", id)
}

// AttachReport stores the rendered JSON report alongside the run.
func (s *SQLiteStore) AttachReport(ctx context.Context, id string, reportJSON string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runs SET report = ? WHERE id = ?`, reportJSON, id)
	if err != nil {
		return fmt.Errorf("attach report: %w", err)
	}
	return requireRow(result, "run", id)
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, operation, environment, status, started_at, completed_at, error, report
		FROM runs
		WHERE id = ?
	`
	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Operation,
		&run.Environment,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Report,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, operation, environment, status, started_at, completed_at, error, report
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID,
			&run.Operation,
			&run.Environment,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Report,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and, via cascade, its steps.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return requireRow(result, "run", id)
}

// AppendSteps writes the pipeline steps of a completed run in one
// transaction, preserving their order.
func (s *SQLiteStore) AppendSteps(ctx context.Context, runID string, steps []core.PipelineStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO run_steps (run_id, position, name, status, severity, detail, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, step := range steps {
		if _, err := tx.ExecContext(ctx, query,
			runID,
			i,
			step.Name,
			step.Status,
			step.Severity,
			step.Detail,
			step.StartedAt,
			int64(step.Duration),
		); err != nil {
			return fmt.Errorf("insert step %s: %w", step.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit steps: %w", err)
	}
	return nil
}

// ListSteps returns the persisted steps of a run in execution order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	query := `
		SELECT id, run_id, position, name, status, severity, detail, started_at, duration_ns
		FROM run_steps
		WHERE run_id = ?
		ORDER BY position ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []*StepRecord{}
	for rows.Next() {
		step := &StepRecord{}
		var durationNS int64
		if err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Position,
			&step.Name,
			&step.Status,
			&step.Severity,
			&step.Detail,
			&step.StartedAt,
			&durationNS,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Duration = time.Duration(durationNS)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// RecordMigration appends one migration outcome to the audit table.
func (s *SQLiteStore) RecordMigration(ctx context.Context, rec *MigrationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO migration_outcomes (run_id, database_id, target_pool, status, elapsed_ns, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.DatabaseID,
		rec.TargetPool,
		rec.Status,
		int64(rec.Elapsed),
		rec.Reason,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("migration outcome ID: %w", err)
	}
	rec.ID = id
	return nil
}

// ListMigrations lists migration outcomes newest first, optionally filtered
// by database.
func (s *SQLiteStore) ListMigrations(ctx context.Context, databaseID *string, limit, offset int) ([]*MigrationRecord, error) {
	query := `
		SELECT id, run_id, database_id, target_pool, status, elapsed_ns, reason, recorded_at
		FROM migration_outcomes
		WHERE (? IS NULL OR database_id = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, databaseID, databaseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	records := []*MigrationRecord{}
	for rows.Next() {
		rec := &MigrationRecord{}
		var elapsedNS int64
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.DatabaseID,
			&rec.TargetPool,
			&rec.Status,
			&elapsedNS,
			&rec.Reason,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan migration outcome: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedNS)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration outcomes: %w", err)
	}
	return records, nil
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
