package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	task               TEXT NOT NULL,
	project_path       TEXT NOT NULL,
	status             TEXT NOT NULL,
	builder_sandbox_id TEXT NOT NULL DEFAULT '',
	checker_sandbox_id TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	completed_at       TEXT,
	error_message      TEXT NOT NULL DEFAULT '',
	review_comment     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS telemetry_samples (
	job_id       TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	cpu_percent  REAL NOT NULL,
	ram_mb       REAL NOT NULL,
	current_tool TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_telemetry_job_ts ON telemetry_samples (job_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_records (
	job_id     TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is a SQLite-backed persistence layer for Job, TelemetrySample, and
// AuditRecord entities. It is safe for concurrent use by multiple
// goroutines; the *sql.DB connection pool serializes writes internally.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite store at %q", path)
	}
	// SQLite only tolerates a single writer; avoid "database is locked"
	// errors under the Engine's concurrent callback/scheduler load by
	// funneling everything through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob persists a newly submitted job in StatusPending.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, task, project_path, status, builder_sandbox_id, checker_sandbox_id, created_at, completed_at, error_message, review_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Task, job.ProjectPath, string(job.Status),
		job.BuilderSandboxID, job.CheckerSandboxID,
		job.CreatedAt.Format(timeLayout), nullableTime(job.CompletedAt),
		job.ErrorMessage, job.ReviewComment,
	)
	if err != nil {
		return errors.Wrapf(err, "inserting job %s", job.ID)
	}
	return nil
}

// UpdateJob persists the full row for job, as it stands after a status
// transition. Callers must call this before publishing the transition to
// any subscriber (see Engine).
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, builder_sandbox_id = ?, checker_sandbox_id = ?,
			completed_at = ?, error_message = ?, review_comment = ?
		WHERE id = ?`,
		string(job.Status), job.BuilderSandboxID, job.CheckerSandboxID,
		nullableTime(job.CompletedAt), job.ErrorMessage, job.ReviewComment,
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "updating job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// UpdateJobAndAudit persists a job's transition to awaiting_approval and
// its AuditRecord together, matching the spec.md requirement that the
// audit record is created "in the same transaction as the status
// transition to awaiting_approval".
func (s *Store) UpdateJobAndAudit(ctx context.Context, job *Job, audit *AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, builder_sandbox_id = ?, checker_sandbox_id = ?,
			completed_at = ?, error_message = ?, review_comment = ?
		WHERE id = ?`,
		string(job.Status), job.BuilderSandboxID, job.CheckerSandboxID,
		nullableTime(job.CompletedAt), job.ErrorMessage, job.ReviewComment,
		job.ID,
	); err != nil {
		return errors.Wrapf(err, "updating job %s", job.ID)
	}

	if audit != nil {
		payload, err := json.Marshal(audit.Payload)
		if err != nil {
			return errors.Wrap(err, "marshalling audit payload")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_records (job_id, payload, created_at) VALUES (?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
			audit.JobID, string(payload), audit.CreatedAt.Format(timeLayout),
		); err != nil {
			return errors.Wrapf(err, "inserting audit record for %s", audit.JobID)
		}
	}

	return errors.Wrap(tx.Commit(), "committing transaction")
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, project_path, status, builder_sandbox_id, checker_sandbox_id,
			created_at, completed_at, error_message, review_comment
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return job, err
}

// ListJobs returns up to limit jobs, newest first, optionally filtered by
// status (pass "" for no filter).
func (s *Store) ListJobs(ctx context.Context, limit int, status Status) ([]*Job, error) {
	query := `SELECT id, task, project_path, status, builder_sandbox_id, checker_sandbox_id,
			created_at, completed_at, error_message, review_comment
		FROM jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "iterating job rows")
}

// ListNonTerminalJobs returns every job not in a terminal status, for use
// by the Engine's startup orphan-recovery pass.
func (s *Store) ListNonTerminalJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, project_path, status, builder_sandbox_id, checker_sandbox_id,
			created_at, completed_at, error_message, review_comment
		FROM jobs
		WHERE status NOT IN (?, ?, ?)`,
		string(StatusCompleted), string(StatusFailed), string(StatusRejected),
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing non-terminal jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "iterating job rows")
}

// AppendTelemetry inserts a new (append-only) telemetry heartbeat.
func (s *Store) AppendTelemetry(ctx context.Context, sample *TelemetrySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_samples (job_id, timestamp, cpu_percent, ram_mb, current_tool)
		VALUES (?, ?, ?, ?, ?)`,
		sample.JobID, sample.Timestamp.Format(timeLayout), sample.CPUPercent, sample.RAMMB, sample.CurrentTool,
	)
	return errors.Wrapf(err, "appending telemetry for %s", sample.JobID)
}

// LatestTelemetry returns the most recent sample for jobID, or
// ErrNotFound if none has been recorded.
func (s *Store) LatestTelemetry(ctx context.Context, jobID string) (*TelemetrySample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, timestamp, cpu_percent, ram_mb, current_tool
		FROM telemetry_samples WHERE job_id = ? ORDER BY timestamp DESC LIMIT 1`, jobID)

	var sample TelemetrySample
	var ts string
	err := row.Scan(&sample.JobID, &ts, &sample.CPUPercent, &sample.RAMMB, &sample.CurrentTool)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "telemetry for %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning telemetry row")
	}
	sample.Timestamp, err = time.Parse(timeLayout, ts)
	return &sample, errors.Wrap(err, "parsing telemetry timestamp")
}

// GetAuditRecord returns the audit record for jobID, or ErrNotFound.
func (s *Store) GetAuditRecord(ctx context.Context, jobID string) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT job_id, payload, created_at FROM audit_records WHERE job_id = ?`, jobID)

	var rec AuditRecord
	var payload, createdAt string
	err := row.Scan(&rec.JobID, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "audit record for %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning audit row")
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, errors.Wrap(err, "unmarshalling audit payload")
	}
	rec.CreatedAt, err = time.Parse(timeLayout, createdAt)
	return &rec, errors.Wrap(err, "parsing audit timestamp")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, createdAt string
	var completedAt sql.NullString
	if err := row.Scan(
		&job.ID, &job.Task, &job.ProjectPath, &status,
		&job.BuilderSandboxID, &job.CheckerSandboxID,
		&createdAt, &completedAt, &job.ErrorMessage, &job.ReviewComment,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)

	var err error
	job.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "parsing created_at")
	}
	if completedAt.Valid {
		t, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "parsing completed_at")
		}
		job.CompletedAt = &t
	}
	return &job, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

// ErrNotFound is returned (wrapped) by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("store: not found")
