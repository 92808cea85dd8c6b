package contracts

import (
	"context"
	"time"

	"drivesync/domain/jobs"
)

// JobRepository persists sync pass jobs.
type JobRepository interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	ListJobsByType(ctx context.Context, jobType jobs.JobType) ([]*jobs.Job, error)
	ListJobsByStatus(ctx context.Context, status jobs.JobStatus) ([]*jobs.Job, error)
	ListJobsByScope(ctx context.Context, scopeKey string) ([]*jobs.Job, error)
	CreateJob(ctx context.Context, job *jobs.Job) error
	UpdateJob(ctx context.Context, job *jobs.Job) error

	// DeleteOldJobs removes finished jobs completed before olderThan.
	DeleteOldJobs(ctx context.Context, olderThan time.Time) error
}
