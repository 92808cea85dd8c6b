package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"drivesync/domain/drive"
)

// JobFactory creates new jobs with proper initialization
type JobFactory struct{}

// CreateJob creates a pending job for a scope.
func (jf *JobFactory) CreateJob(jobType JobType, scope drive.DriveScope, trigger Trigger) *Job {
	job := &Job{
		ID:        jf.generateJobID(jobType),
		Type:      jobType,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Context:   SyncJobContext{Scope: scope, Trigger: trigger},
	}
	job.InitializeState()
	return job
}

// CreateTenantJob creates a pending job that works on a whole tenant.
func (jf *JobFactory) CreateTenantJob(jobType JobType, tenantID string, trigger Trigger) *Job {
	return jf.CreateJob(jobType, drive.DriveScope{TenantID: tenantID}, trigger)
}

func (jf *JobFactory) generateJobID(jobType JobType) string {
	return fmt.Sprintf("%s_%s_%s",
		jobType,
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}
