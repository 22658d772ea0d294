package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/shared/postgresql"
)

// Postgres stores jobs in a PostgreSQL `jobs` table:
//
//	job_id uuid primary key, job_type text, status text,
//	target_spec jsonb, payload jsonb, requested_by text,
//	requested_at timestamptz, scheduled_for timestamptz null,
//	started_at timestamptz null, finished_at timestamptz null,
//	error_message text, result_summary jsonb null, updated_at timestamptz
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a store over the given PostgreSQL client.
func NewPostgres(pg *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     pg.GetDB(),
		logger: logger,
	}
}

type jobRow struct {
	JobID         string         `db:"job_id"`
	JobType       string         `db:"job_type"`
	Status        string         `db:"status"`
	TargetSpec    []byte         `db:"target_spec"`
	Payload       []byte         `db:"payload"`
	RequestedBy   sql.NullString `db:"requested_by"`
	RequestedAt   time.Time      `db:"requested_at"`
	ScheduledFor  *time.Time     `db:"scheduled_for"`
	StartedAt     *time.Time     `db:"started_at"`
	FinishedAt    *time.Time     `db:"finished_at"`
	ErrorMessage  sql.NullString `db:"error_message"`
	ResultSummary []byte         `db:"result_summary"`
}

const jobColumns = `
	job_id, job_type, status, target_spec, payload, requested_by,
	requested_at, scheduled_for, started_at, finished_at,
	error_message, result_summary
`

func (r *jobRow) toJob() (*job.Job, error) {
	jb := &job.Job{
		ID:           r.JobID,
		Type:         job.Type(r.JobType),
		Status:       job.Status(r.Status),
		TargetSpec:   r.TargetSpec,
		Payload:      r.Payload,
		RequestedBy:  r.RequestedBy.String,
		RequestedAt:  r.RequestedAt,
		ScheduledFor: r.ScheduledFor,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Error:        r.ErrorMessage.String,
	}

	if len(r.ResultSummary) > 0 {
		var summary job.Summary
		if err := json.Unmarshal(r.ResultSummary, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode result summary: %w", err)
		}
		jb.Summary = &summary
	}

	return jb, nil
}

func (s *Postgres) Create(ctx context.Context, jb *job.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, status, target_spec, payload,
			requested_by, requested_at, scheduled_for, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		jb.ID,
		jb.Type,
		jb.Status,
		[]byte(jb.TargetSpec),
		[]byte(jb.Payload),
		jb.RequestedBy,
		jb.RequestedAt,
		jb.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Postgres) Get(ctx context.Context, jobID string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

func (s *Postgres) List(ctx context.Context, filter Filter) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.RequestedBy != "" {
		query += fmt.Sprintf(" AND requested_by = $%d", argIdx)
		args = append(args, filter.RequestedBy)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (requested_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.RequestedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by requested_at DESC, job_id DESC for stable pagination.
	query += " ORDER BY requested_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		// Fetch one extra so the caller can tell whether more results exist.
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]job.Job, 0, len(rows))
	for i := range rows {
		jb, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *jb)
	}

	return jobs, nil
}

// UpdateStatus moves a job to the given status. The legal source states for
// that status are enforced in the WHERE clause, so a concurrent transition
// loses cleanly: zero rows affected means job.ErrInvalidState (or not
// found), and the stored status is untouched.
func (s *Postgres) UpdateStatus(ctx context.Context, jobID string, to job.Status, fields Fields) error {
	sources := job.LegalSources(to)
	from := make([]string, len(sources))
	for i, f := range sources {
		from[i] = string(f)
	}

	query := `
		UPDATE jobs
		SET status = $1,
			started_at = COALESCE($2, started_at),
			finished_at = CASE WHEN $3 THEN NOW() ELSE finished_at END,
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			updated_at = NOW()
		WHERE job_id = $5
		  AND status = ANY($6)
	`

	result, err := s.db.ExecContext(ctx, query, to, fields.StartedAt, to.Terminal(), fields.Error, jobID, pq.Array(from))
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if _, getErr := s.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		s.logger.Warn("Rejected illegal status transition",
			slog.String("job_id", jobID),
			slog.String("to", string(to)),
		)
		return job.ErrInvalidState
	}

	return nil
}

func (s *Postgres) UpdateSummary(ctx context.Context, jobID string, summary *job.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal result summary: %w", err)
	}

	query := `
		UPDATE jobs
		SET result_summary = $1,
			updated_at = NOW()
		WHERE job_id = $2
	`

	result, err := s.db.ExecContext(ctx, query, data, jobID)
	if err != nil {
		return fmt.Errorf("failed to update result summary: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return job.ErrJobNotFound
	}

	return nil
}
