package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"drivesync/database"
	"drivesync/domain/contracts"
	"drivesync/domain/jobs"
	"drivesync/infrastructure/serialization"
)

// SqliteJobRepository implements contracts.JobRepository with read/write separation.
type SqliteJobRepository struct {
	*BaseRepository
	serializer *serialization.JobStateSerializer
}

// NewSqliteJobRepository creates a new job repository with read/write database separation.
func NewSqliteJobRepository(database *database.Database) contracts.JobRepository {
	return &SqliteJobRepository{
		BaseRepository: NewBaseRepository(database),
		serializer:     serialization.NewJobStateSerializer(),
	}
}

const jobColumns = `id, job_type, status, scope_key, started_at, completed_at, state_json, context_json, result, error`

// CreateJob creates a new job in the database.
func (r *SqliteJobRepository) CreateJob(ctx context.Context, job *jobs.Job) error {
	stateJSON, err := r.serializer.SerializeState(job.State)
	if err != nil {
		return err
	}
	contextJSON, err := r.serializer.SerializeContext(job.Context)
	if err != nil {
		return err
	}

	_, err = r.WriteDB().ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), string(job.Status), job.ScopeKey(),
		job.StartedAt.UTC(), r.ToNullTime(job.CompletedAt),
		stateJSON, contextJSON, job.Result, job.Error)
	return err
}

// UpdateJob updates a complete job record
func (r *SqliteJobRepository) UpdateJob(ctx context.Context, job *jobs.Job) error {
	stateJSON, err := r.serializer.SerializeState(job.State)
	if err != nil {
		return err
	}

	_, err = r.WriteDB().ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, completed_at = ?, state_json = ?, result = ?, error = ?
		WHERE id = ?`,
		string(job.Status), r.ToNullTime(job.CompletedAt), stateJSON, job.Result, job.Error, job.ID)
	return err
}

// GetJob retrieves a single job by ID
func (r *SqliteJobRepository) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := r.ReadDB().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := r.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Job not found
	}
	return job, err
}

// ListJobs retrieves all jobs, newest first
func (r *SqliteJobRepository) ListJobs(ctx context.Context) ([]*jobs.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC`)
}

// ListJobsByType retrieves jobs filtered by type
func (r *SqliteJobRepository) ListJobsByType(ctx context.Context, jobType jobs.JobType) ([]*jobs.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_type = ? ORDER BY started_at DESC`, string(jobType))
}

// ListJobsByStatus retrieves jobs filtered by status
func (r *SqliteJobRepository) ListJobsByStatus(ctx context.Context, status jobs.JobStatus) ([]*jobs.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY started_at DESC`, string(status))
}

// ListJobsByScope retrieves the jobs of one drive or tenant
func (r *SqliteJobRepository) ListJobsByScope(ctx context.Context, scopeKey string) ([]*jobs.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE scope_key = ? ORDER BY started_at DESC`, scopeKey)
}

// DeleteOldJobs deletes finished jobs completed before olderThan
func (r *SqliteJobRepository) DeleteOldJobs(ctx context.Context, olderThan time.Time) error {
	_, err := r.WriteDB().ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?`,
		olderThan.UTC())
	return err
}

func (r *SqliteJobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*jobs.Job, error) {
	rows, err := r.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobList := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}
	return jobList, rows.Err()
}

func (r *SqliteJobRepository) scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job                    jobs.Job
		jobType, status, scope string
		completedAt            sql.NullTime
		stateJSON, contextJSON string
	)
	if err := row.Scan(&job.ID, &jobType, &status, &scope, &job.StartedAt, &completedAt,
		&stateJSON, &contextJSON, &job.Result, &job.Error); err != nil {
		return nil, err
	}

	job.Type = jobs.JobType(jobType)
	job.Status = jobs.JobStatus(status)
	job.CompletedAt = r.FromNullTime(completedAt)

	if state, err := r.serializer.DeserializeState(stateJSON); err == nil {
		job.State = state
	} else {
		// Initialize default state if deserialization fails
		job.InitializeState()
	}
	if jobContext, err := r.serializer.DeserializeContext(contextJSON); err == nil {
		job.Context = jobContext
	}

	return &job, nil
}
