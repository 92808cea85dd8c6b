package application

import (
	"context"

	"drivesync/domain/drive"
	"drivesync/domain/jobs"
)

// JobExecutor defines the interface for executing specific job types
type JobExecutor interface {
	Execute(ctx context.Context, job *jobs.Job, progressCallback ProgressCallback) error
}

// ProgressCallback is called during job execution to report progress
type ProgressCallback func(stage, description string, percentage, itemsDone, itemsTotal int)

// PassRunner runs the pass a drive's checkpoint calls for.
type PassRunner interface {
	RunPass(ctx context.Context, scope drive.DriveScope, progress ProgressCallback) (*PassResult, error)
}
