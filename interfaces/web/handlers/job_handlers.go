package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drivesync/application"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/interfaces/web/presenters"
	"drivesync/logging"
)

// JobAdmin is what the job endpoints need. PassCoordinator implements it.
type JobAdmin interface {
	ListJobs(ctx context.Context, filter application.JobFilter) ([]*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	CancelJob(ctx context.Context, jobID string) (*jobs.Job, error)
}

// JobHandlers handles job-related HTTP endpoints.
type JobHandlers struct {
	jobService   JobAdmin
	jobPresenter *presenters.JobPresenter
	logger       *logging.Logger
}

// NewJobHandlers creates a new job handlers instance.
func NewJobHandlers(jobService JobAdmin, jobPresenter *presenters.JobPresenter) *JobHandlers {
	return &JobHandlers{
		jobService:   jobService,
		jobPresenter: jobPresenter,
		logger:       logging.Default().WithComponent("job_handler"),
	}
}

// ListJobs returns jobs newest first. Query parameters type, status, tenant_id, site_id and
// drive_id narrow the list; tenant_id alone selects tenant-wide jobs.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := application.JobFilter{
		Type:   jobs.JobType(q.Get("type")),
		Status: jobs.JobStatus(q.Get("status")),
	}

	scope := drive.DriveScope{TenantID: q.Get("tenant_id"), SiteID: q.Get("site_id"), DriveID: q.Get("drive_id")}
	switch {
	case scope.SiteID != "" || scope.DriveID != "":
		if err := scope.Validate(); err != nil {
			RenderError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.ScopeKey = scope.Key()
	case scope.TenantID != "":
		filter.ScopeKey = scope.TenantID
	}

	list, err := h.jobService.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to list jobs", "error", err)
		RenderError(w, statusFor(err), "failed to list jobs")
		return
	}
	RenderJSON(w, http.StatusOK, h.jobPresenter.FormatJobList(list))
}

// GetJobStatus returns the current status of a job
func (h *JobHandlers) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to load job", "job_id", jobID, "error", err)
		RenderError(w, statusFor(err), "failed to load job")
		return
	}
	if job == nil {
		RenderError(w, http.StatusNotFound, "job not found")
		return
	}
	RenderJSON(w, http.StatusOK, h.jobPresenter.FormatJobStatus(job))
}

// CancelJob cancels a running job. The job reports cancelled once it reaches its next step
// boundary.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobService.CancelJob(r.Context(), jobID)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("Failed to cancel job", "job_id", jobID, "error", err.Error())
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		RenderError(w, status, err.Error())
		return
	}

	h.logger.Info("Job cancellation requested", "job_id", jobID)
	RenderJSON(w, http.StatusAccepted, h.jobPresenter.FormatJobStatus(job))
}
