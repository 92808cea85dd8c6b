package jobs

import (
	"fmt"
	"time"

	"drivesync/domain/drive"
)

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType represents the type of job.
type JobType string

const (
	JobTypeFullCrawl           JobType = "full_crawl"
	JobTypeDeltaPass           JobType = "delta_pass"
	JobTypeSubscriptionRenewal JobType = "subscription_renewal"
	JobTypeTenantTeardown      JobType = "tenant_teardown"
)

// Trigger records what started a job.
type Trigger string

const (
	TriggerRegistration Trigger = "registration"
	TriggerWebhook      Trigger = "webhook"
	TriggerScheduler    Trigger = "scheduler"
	TriggerManual       Trigger = "manual"
	TriggerResync       Trigger = "resync"
)

// JobProgress represents detailed progress information.
type JobProgress struct {
	Stage       string `json:"stage"`
	Description string `json:"description"`
	Percentage  int    `json:"percentage"`  // 0-100, only meaningful when the total is known
	ItemsTotal  int    `json:"items_total"` // 0 when unknown
	ItemsDone   int    `json:"items_done"`
}

// JobStageInfo represents information about a stage in the job timeline.
type JobStageInfo struct {
	Stage     string     `json:"stage"`
	Started   time.Time  `json:"started"`
	Completed *time.Time `json:"completed,omitempty"`
	Duration  string     `json:"duration,omitempty"`
}

// JobStats counts what a pass did.
type JobStats struct {
	PagesFetched       int `json:"pages_fetched"`
	ItemsSeen          int `json:"items_seen"`
	ItemsUpserted      int `json:"items_upserted"`
	ItemsDeleted       int `json:"items_deleted"`
	ItemsDropped       int `json:"items_dropped"`
	PermissionsFetched int `json:"permissions_fetched"`
	RecordsSkipped     int `json:"records_skipped"`
	SubscriptionsDone  int `json:"subscriptions_done"`
	ErrorsEncountered  int `json:"errors_encountered"`
}

// Add accumulates another set of counters.
func (s *JobStats) Add(other JobStats) {
	s.PagesFetched += other.PagesFetched
	s.ItemsSeen += other.ItemsSeen
	s.ItemsUpserted += other.ItemsUpserted
	s.ItemsDeleted += other.ItemsDeleted
	s.ItemsDropped += other.ItemsDropped
	s.PermissionsFetched += other.PermissionsFetched
	s.RecordsSkipped += other.RecordsSkipped
	s.SubscriptionsDone += other.SubscriptionsDone
	s.ErrorsEncountered += other.ErrorsEncountered
}

// SyncJobContext identifies what a job works on.
type SyncJobContext struct {
	Scope   drive.DriveScope `json:"scope"`
	Trigger Trigger          `json:"trigger"`
}

// JobState represents the complete rich state of a job stored as JSON.
type JobState struct {
	Stage            string         `json:"stage"`
	StageStartedAt   time.Time      `json:"stage_started_at"`
	CurrentOperation string         `json:"current_operation"`
	Progress         JobProgress    `json:"progress"`
	Timeline         []JobStageInfo `json:"timeline"`
	Stats            JobStats       `json:"stats"`
	Messages         []string       `json:"messages,omitempty"` // last ten status messages
}

// Job is one execution of a sync pass, a renewal sweep or a tenant teardown.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	State       JobState
	Result      string
	Error       string
	Context     SyncJobContext
}

// IsActive returns true if the job is still running or pending.
func (j *Job) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// IsComplete returns true if the job has finished (successfully, with error, or cancelled).
func (j *Job) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// Scope returns the drive scope the job works on. Tenant jobs only carry the tenant id.
func (j *Job) Scope() drive.DriveScope {
	return j.Context.Scope
}

// ScopeKey returns the scope key used for filtering. Tenant jobs use the bare tenant id.
func (j *Job) ScopeKey() string {
	if j.Context.Scope.DriveID == "" {
		return j.Context.Scope.TenantID
	}
	return j.Context.Scope.Key()
}

// GetJobTypeDisplayName returns a human-readable display name for the job type.
func (j *Job) GetJobTypeDisplayName() string {
	switch j.Type {
	case JobTypeFullCrawl:
		return "Full Crawl"
	case JobTypeDeltaPass:
		return "Delta Pass"
	case JobTypeSubscriptionRenewal:
		return "Subscription Renewal"
	case JobTypeTenantTeardown:
		return "Tenant Teardown"
	default:
		return string(j.Type)
	}
}

// Duration returns how long the job has been running, or total duration if complete.
func (j *Job) Duration() time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

// UpdateProgress updates the job progress and handles stage transitions.
func (j *Job) UpdateProgress(stage, description string, percentage, itemsDone, itemsTotal int) {
	j.State.Progress = JobProgress{
		Stage:       stage,
		Description: description,
		Percentage:  percentage,
		ItemsTotal:  itemsTotal,
		ItemsDone:   itemsDone,
	}
	j.State.CurrentOperation = description

	if j.State.Stage != stage {
		j.enterStage(stage)
	}
	j.addMessage(stage, description)
}

// RecordStats merges page counters into the job state.
func (j *Job) RecordStats(delta JobStats) {
	j.State.Stats.Add(delta)
}

// GetProgressString returns a human-readable progress string.
func (j *Job) GetProgressString() string {
	stats := j.State.Stats
	if stats.PagesFetched > 0 {
		return fmt.Sprintf("%s: %s (%d pages, %d items, %d upserted, %d deleted)",
			j.State.Stage,
			j.State.CurrentOperation,
			stats.PagesFetched,
			stats.ItemsSeen,
			stats.ItemsUpserted,
			stats.ItemsDeleted)
	}
	if j.State.Progress.ItemsTotal > 0 {
		return fmt.Sprintf("%s: %s (%d/%d)",
			j.State.Stage,
			j.State.CurrentOperation,
			j.State.Progress.ItemsDone,
			j.State.Progress.ItemsTotal)
	}
	return fmt.Sprintf("%s: %s", j.State.Stage, j.State.CurrentOperation)
}

// InitializeState initializes the job state with basic information and timeline.
func (j *Job) InitializeState() {
	now := time.Now()
	j.State = JobState{
		Stage:            "initializing",
		StageStartedAt:   now,
		CurrentOperation: "Preparing pass...",
		Progress: JobProgress{
			Stage:       "initializing",
			Description: "Preparing pass...",
		},
		Timeline: []JobStageInfo{{Stage: "initializing", Started: now}},
		Messages: []string{},
	}
}

func (j *Job) enterStage(stage string) {
	now := time.Now()
	if len(j.State.Timeline) > 0 {
		last := &j.State.Timeline[len(j.State.Timeline)-1]
		if last.Completed == nil {
			last.Completed = &now
			last.Duration = now.Sub(last.Started).String()
		}
	}
	j.State.Timeline = append(j.State.Timeline, JobStageInfo{Stage: stage, Started: now})
	j.State.Stage = stage
	j.State.StageStartedAt = now
}

func (j *Job) addMessage(stage, operation string) {
	j.State.Messages = append(j.State.Messages, fmt.Sprintf("[%s] %s", stage, operation))
	if len(j.State.Messages) > 10 {
		j.State.Messages = j.State.Messages[1:]
	}
}
