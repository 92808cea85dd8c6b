package jobs

import (
	"fmt"
	"time"
)

// JobLifecycle manages job state transitions and business rules
type JobLifecycle struct{}

// StartJob transitions job to running status with validation
func (jl *JobLifecycle) StartJob(job *Job) error {
	if job.Status != JobStatusPending {
		return fmt.Errorf("cannot start job in status: %s", job.Status)
	}

	job.Status = JobStatusRunning
	job.StartedAt = time.Now()
	job.InitializeState()
	return nil
}

// CompleteJob transitions job to completed status with state finalization
func (jl *JobLifecycle) CompleteJob(job *Job, result string) error {
	if !job.IsActive() {
		return fmt.Errorf("cannot complete inactive job")
	}

	job.Status = JobStatusCompleted
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now

	jl.finalizeJobState(job, "completed", fmt.Sprintf("%s completed", job.GetJobTypeDisplayName()))
	return nil
}

// FailJob transitions job to failed status with error details
func (jl *JobLifecycle) FailJob(job *Job, errorMsg string) error {
	if !job.IsActive() {
		return fmt.Errorf("cannot fail inactive job")
	}

	job.Status = JobStatusFailed
	job.Error = errorMsg
	now := time.Now()
	job.CompletedAt = &now

	jl.finalizeJobState(job, "failed", fmt.Sprintf("%s failed: %s", job.GetJobTypeDisplayName(), errorMsg))
	return nil
}

// CancelJob transitions job to cancelled status
func (jl *JobLifecycle) CancelJob(job *Job) error {
	if !job.IsActive() {
		return fmt.Errorf("cannot cancel inactive job")
	}

	job.Status = JobStatusCancelled
	now := time.Now()
	job.CompletedAt = &now

	jl.finalizeJobState(job, "cancelled", fmt.Sprintf("%s cancelled", job.GetJobTypeDisplayName()))
	return nil
}

func (jl *JobLifecycle) finalizeJobState(job *Job, stage, operation string) {
	now := time.Now()

	if len(job.State.Timeline) > 0 {
		last := &job.State.Timeline[len(job.State.Timeline)-1]
		if last.Completed == nil {
			last.Completed = &now
			last.Duration = now.Sub(last.Started).String()
		}
	}

	job.State.Stage = stage
	job.State.CurrentOperation = operation
	job.State.StageStartedAt = now

	if stage == "completed" {
		job.State.Progress.Percentage = 100
	}

	job.addMessage(stage, operation)
}
