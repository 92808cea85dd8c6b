package presenters

import (
	"encoding/json"
	"time"

	"drivesync/domain/jobs"
)

const timestampLayout = time.RFC3339

// JobStatusView represents the status of a job for API responses
type JobStatusView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	TypeName    string `json:"type_name"`
	Status      string `json:"status"`
	Trigger     string `json:"trigger,omitempty"`
	TenantID    string `json:"tenant_id"`
	SiteID      string `json:"site_id,omitempty"`
	DriveID     string `json:"drive_id,omitempty"`
	Progress    string `json:"progress"`
	Percentage  int    `json:"percentage"`
	Stage       string `json:"stage"`
	Description string `json:"description"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Duration    string `json:"duration"`
	IsActive    bool   `json:"is_active"`
	IsComplete  bool   `json:"is_complete"`
	Error       string `json:"error,omitempty"`

	Timeline       []JobStageDisplay `json:"timeline,omitempty"`
	Stats          jobs.JobStats     `json:"stats"`
	RecentMessages []string          `json:"recent_messages,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
}

// JobStageDisplay represents a stage in the job timeline
type JobStageDisplay struct {
	Stage     string `json:"stage"`
	Started   string `json:"started"`
	Completed string `json:"completed,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// JobListView represents a list of jobs
type JobListView struct {
	Jobs  []*JobStatusView `json:"jobs"`
	Count int              `json:"count"`
}

// JobPresenter transforms jobs into API views.
type JobPresenter struct {
	now func() time.Time
}

// NewJobPresenter creates a job presenter.
func NewJobPresenter() *JobPresenter {
	return &JobPresenter{now: time.Now}
}

// FormatJobStatus converts a job to its view with progress, timeline and stats.
func (p *JobPresenter) FormatJobStatus(job *jobs.Job) *JobStatusView {
	if job == nil {
		return nil
	}

	stage := "initializing"
	if job.State.Stage != "" {
		stage = job.State.Stage
	}

	scope := job.Scope()
	view := &JobStatusView{
		ID:             job.ID,
		Type:           string(job.Type),
		TypeName:       job.GetJobTypeDisplayName(),
		Status:         string(job.Status),
		Trigger:        string(job.Context.Trigger),
		TenantID:       scope.TenantID,
		SiteID:         scope.SiteID,
		DriveID:        scope.DriveID,
		Progress:       job.GetProgressString(),
		Percentage:     job.State.Progress.Percentage,
		Stage:          stage,
		Description:    job.State.CurrentOperation,
		StartedAt:      job.StartedAt.UTC().Format(timestampLayout),
		IsActive:       job.IsActive(),
		IsComplete:     job.IsComplete(),
		Error:          job.Error,
		Stats:          job.State.Stats,
		RecentMessages: job.State.Messages,
	}

	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.UTC().Format(timestampLayout)
		view.Duration = job.CompletedAt.Sub(job.StartedAt).Truncate(time.Millisecond).String()
	} else {
		view.Duration = p.now().Sub(job.StartedAt).Truncate(time.Second).String()
	}

	// Results are JSON written by the executors; anything else is dropped.
	if job.Result != "" && json.Valid([]byte(job.Result)) {
		view.Result = json.RawMessage(job.Result)
	}

	view.Timeline = make([]JobStageDisplay, len(job.State.Timeline))
	for i, s := range job.State.Timeline {
		display := JobStageDisplay{
			Stage:   s.Stage,
			Started: s.Started.UTC().Format(timestampLayout),
		}
		if s.Completed != nil {
			display.Completed = s.Completed.UTC().Format(timestampLayout)
			display.Duration = s.Duration
		}
		view.Timeline[i] = display
	}

	return view
}

// FormatJobList converts multiple jobs to a list view.
func (p *JobPresenter) FormatJobList(list []*jobs.Job) *JobListView {
	views := make([]*JobStatusView, 0, len(list))
	for _, job := range list {
		if view := p.FormatJobStatus(job); view != nil {
			views = append(views, view)
		}
	}
	return &JobListView{Jobs: views, Count: len(views)}
}
