package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/domain/tenant"
	"drivesync/interfaces/web/presenters"
	"drivesync/logging"
)

// TenantAdmin is what the tenant endpoints need. TenantService implements it.
type TenantAdmin interface {
	RegisterDrive(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error)
	RegisterSite(ctx context.Context, tenantID, siteID string, trigger jobs.Trigger) ([]drive.DriveScope, error)
	ListDrives(ctx context.Context, tenantID string) ([]*checkpoint.DeltaState, error)
	GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]*tenant.Tenant, error)
	Uninstall(ctx context.Context, tenantID string) (*jobs.Job, error)
}

// PassControl starts passes and reports which scopes are busy. PassCoordinator implements it.
type PassControl interface {
	TriggerPass(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error)
	IsRunning(scope drive.DriveScope) bool
}

// RegisterDriveRequest is the body of a drive registration.
type RegisterDriveRequest struct {
	SiteID  string `json:"site_id"`
	DriveID string `json:"drive_id"`
}

// SiteRegistrationView reports which drives of a site were registered.
type SiteRegistrationView struct {
	TenantID string   `json:"tenant_id"`
	SiteID   string   `json:"site_id"`
	Drives   []string `json:"drives"`
	Error    string   `json:"error,omitempty"`
}

// TenantHandlers serves tenant and drive administration.
type TenantHandlers struct {
	tenants   TenantAdmin
	passes    PassControl
	presenter *presenters.DrivePresenter
	jobs      *presenters.JobPresenter
	logger    *logging.Logger
}

// NewTenantHandlers creates the tenant endpoints.
func NewTenantHandlers(tenants TenantAdmin, passes PassControl, drivePresenter *presenters.DrivePresenter, jobPresenter *presenters.JobPresenter) *TenantHandlers {
	return &TenantHandlers{
		tenants:   tenants,
		passes:    passes,
		presenter: drivePresenter,
		jobs:      jobPresenter,
		logger:    logging.Default().WithComponent("tenant_handler"),
	}
}

// ListTenants returns every tenant with its connection status.
func (h *TenantHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.tenants.ListTenants(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to list tenants", "error", err)
		RenderError(w, statusFor(err), "failed to list tenants")
		return
	}
	RenderJSON(w, http.StatusOK, h.presenter.FormatTenants(list))
}

// ListDrives returns the checkpoints of a tenant.
func (h *TenantHandlers) ListDrives(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx := r.Context()

	t, err := h.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		h.logger.WithContext(ctx).Error("Failed to load tenant", "tenant_id", tenantID, "error", err)
		RenderError(w, statusFor(err), "failed to load tenant")
		return
	}
	states, err := h.tenants.ListDrives(ctx, tenantID)
	if err != nil {
		h.logger.WithContext(ctx).Error("Failed to list drives", "tenant_id", tenantID, "error", err)
		RenderError(w, statusFor(err), "failed to list drives")
		return
	}
	if t == nil && len(states) == 0 {
		RenderError(w, http.StatusNotFound, "tenant not found")
		return
	}

	RenderJSON(w, http.StatusOK, h.presenter.FormatDriveList(t, tenantID, states, h.passes.IsRunning))
}

// RegisterDrive registers one drive and starts its crawl.
func (h *TenantHandlers) RegisterDrive(w http.ResponseWriter, r *http.Request) {
	var req RegisterDriveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}

	scope := drive.DriveScope{TenantID: chi.URLParam(r, "tenantID"), SiteID: req.SiteID, DriveID: req.DriveID}
	if err := scope.Validate(); err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.tenants.RegisterDrive(r.Context(), scope, jobs.TriggerRegistration)
	if err != nil {
		h.logger.WithContext(r.Context()).WithScope(scope).Error("Drive registration failed", "error", err)
		RenderError(w, statusFor(err), err.Error())
		return
	}
	RenderJSON(w, http.StatusAccepted, h.jobs.FormatJobStatus(job))
}

// RegisterSite registers every drive of a site. Drives that fail are reported next to the
// ones that were registered.
func (h *TenantHandlers) RegisterSite(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	siteID := chi.URLParam(r, "siteID")

	scopes, err := h.tenants.RegisterSite(r.Context(), tenantID, siteID, jobs.TriggerRegistration)
	view := SiteRegistrationView{TenantID: tenantID, SiteID: siteID, Drives: make([]string, 0, len(scopes))}
	for _, scope := range scopes {
		view.Drives = append(view.Drives, scope.DriveID)
	}

	if err != nil {
		h.logger.WithContext(r.Context()).Error("Site registration failed",
			"tenant_id", tenantID, "site_id", siteID, "registered", len(scopes), "error", err)
		if len(scopes) == 0 {
			RenderError(w, statusFor(err), err.Error())
			return
		}
		view.Error = err.Error()
		RenderJSON(w, http.StatusMultiStatus, view)
		return
	}
	RenderJSON(w, http.StatusAccepted, view)
}

// SyncDrive starts a pass for a registered drive.
func (h *TenantHandlers) SyncDrive(w http.ResponseWriter, r *http.Request) {
	scope := drive.DriveScope{
		TenantID: chi.URLParam(r, "tenantID"),
		SiteID:   chi.URLParam(r, "siteID"),
		DriveID:  chi.URLParam(r, "driveID"),
	}
	if err := scope.Validate(); err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.passes.TriggerPass(r.Context(), scope, jobs.TriggerManual)
	if err != nil {
		h.logger.WithContext(r.Context()).WithScope(scope).Warn("Manual pass rejected", "error", err.Error())
		RenderError(w, statusFor(err), err.Error())
		return
	}
	RenderJSON(w, http.StatusAccepted, h.jobs.FormatJobStatus(job))
}

// Uninstall starts the teardown of a tenant.
func (h *TenantHandlers) Uninstall(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	job, err := h.tenants.Uninstall(r.Context(), tenantID)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Uninstall failed", "tenant_id", tenantID, "error", err)
		RenderError(w, statusFor(err), err.Error())
		return
	}
	h.logger.Security("Tenant uninstall requested", "tenant_id", tenantID, "job_id", job.ID)
	RenderJSON(w, http.StatusAccepted, h.jobs.FormatJobStatus(job))
}
