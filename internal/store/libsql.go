package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/catalyst/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Runs ---

// SaveRun inserts or updates a run record.
func (s *LibSQLStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" || run.ActionKey == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id and action key are required")
	}
	now := time.Now().UTC()
	created := run.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, action_key, session_id, status, input, output, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   started_at=excluded.started_at, completed_at=excluded.completed_at, updated_at=excluded.updated_at`,
		run.ID, run.ActionKey, nullableString(run.SessionID), string(run.Status),
		nullableBytes(run.Input), nullableBytes(run.Output), nullableString(run.Error),
		created, nullableTime(run.StartedAt), nullableTime(run.CompletedAt), now,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "save run").WithCause(err)
	}
	return nil
}

// GetRun retrieves a run by ID. A missing run is NOT_FOUND.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, action_key, session_id, status, input, output, error, created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get run").WithCause(err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, action_key, session_id, status, input, output, error, created_at, started_at, completed_at, updated_at FROM runs`
	var (
		conds []string
		args  []any
	)
	if filter.ActionKey != "" {
		conds = append(conds, "action_key = ?")
		args = append(args, filter.ActionKey)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list runs").WithCause(err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan run").WithCause(err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run record.
func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete run").WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	return nil
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" || job.ActionKey == "" || job.CronExpr == "" {
		return schema.NewError(schema.ErrCodeValidation, "job id, action key, and cron expression are required")
	}
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, action_key, cron_expr, input, enabled, last_run_at, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ActionKey, job.CronExpr, nullableBytes(job.Input),
		boolToInt(job.Enabled), nullableTime(job.LastRunAt), nullableTime(job.NextRunAt), created,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create scheduled job").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, action_key, cron_expr, input, enabled, last_run_at, next_run_at, created_at
		 FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get scheduled job").WithCause(err)
	}
	return job, nil
}

// ListScheduledJobs returns enabled jobs due at or before the given time.
// Jobs that have never run (next_run_at is NULL) are always included.
func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, dueBefore time.Time) ([]*ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_key, cron_expr, input, enabled, last_run_at, next_run_at, created_at
		 FROM scheduled_jobs WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)`,
		dueBefore)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list scheduled jobs").WithCause(err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan scheduled job").WithCause(err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledJobTimes(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		lastRun, nextRun, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "update scheduled job").WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	return nil
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "delete scheduled job").WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	return nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		sessionID sql.NullString
		status    string
		input     sql.NullString
		output    sql.NullString
		errMsg    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&run.ID, &run.ActionKey, &sessionID, &status, &input, &output, &errMsg,
		&run.CreatedAt, &started, &completed, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.SessionID = sessionID.String
	run.Status = RunStatus(status)
	if input.Valid {
		run.Input = []byte(input.String)
	}
	if output.Valid {
		run.Output = []byte(output.String)
	}
	run.Error = errMsg.String
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		input   sql.NullString
		enabled int
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	err := row.Scan(&job.ID, &job.ActionKey, &job.CronExpr, &input, &enabled, &lastRun, &nextRun, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		job.Input = []byte(input.String)
	}
	job.Enabled = enabled != 0
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
