package presenters

import (
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
	"drivesync/domain/tenant"
)

// SubscriptionView is the push subscription part of a drive view.
type SubscriptionView struct {
	ID        string `json:"id,omitempty"`
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// DriveView is a registered drive and its checkpoint. Feed tokens stay opaque and are
// only reported as present or not.
type DriveView struct {
	TenantID       string           `json:"tenant_id"`
	SiteID         string           `json:"site_id"`
	DriveID        string           `json:"drive_id"`
	Phase          string           `json:"phase"`
	Running        bool             `json:"running"`
	CrawlResumable bool             `json:"crawl_resumable"`
	HasDeltaToken  bool             `json:"has_delta_token"`
	CrawlStartedAt string           `json:"crawl_started_at,omitempty"`
	Subscription   SubscriptionView `json:"subscription"`
	UpdatedAt      string           `json:"updated_at,omitempty"`
}

// DriveListView lists the drives of a tenant.
type DriveListView struct {
	TenantID string       `json:"tenant_id"`
	Status   string       `json:"status,omitempty"`
	Drives   []*DriveView `json:"drives"`
}

// TenantView is a tenant and its connection status.
type TenantView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// DrivePresenter formats checkpoints and tenants.
type DrivePresenter struct{}

// NewDrivePresenter creates a drive presenter.
func NewDrivePresenter() *DrivePresenter {
	return &DrivePresenter{}
}

// FormatDrive converts a checkpoint to its view.
func (p *DrivePresenter) FormatDrive(state *checkpoint.DeltaState, running bool) *DriveView {
	if state == nil {
		return nil
	}
	return &DriveView{
		TenantID:       state.Scope.TenantID,
		SiteID:         state.Scope.SiteID,
		DriveID:        state.Scope.DriveID,
		Phase:          string(state.Phase),
		Running:        running,
		CrawlResumable: state.Phase == checkpoint.PhaseFullCrawl && state.PageToken != "",
		HasDeltaToken:  state.DeltaToken != "",
		CrawlStartedAt: formatOptional(state.CrawlStartedAt),
		Subscription: SubscriptionView{
			ID:        state.SubscriptionID,
			State:     string(state.SubscriptionState),
			ExpiresAt: formatOptional(state.SubscriptionExpiresAt),
		},
		UpdatedAt: formatTime(state.UpdatedAt),
	}
}

// FormatDriveList converts the checkpoints of a tenant. running reports whether a pass is
// active for a scope and may be nil.
func (p *DrivePresenter) FormatDriveList(t *tenant.Tenant, tenantID string, states []*checkpoint.DeltaState, running func(drive.DriveScope) bool) *DriveListView {
	view := &DriveListView{TenantID: tenantID, Drives: make([]*DriveView, 0, len(states))}
	if t != nil {
		view.Status = string(t.Status)
	}
	for _, state := range states {
		active := running != nil && running(state.Scope)
		if d := p.FormatDrive(state, active); d != nil {
			view.Drives = append(view.Drives, d)
		}
	}
	return view
}

// FormatTenant converts a tenant to its view.
func (p *DrivePresenter) FormatTenant(t *tenant.Tenant) *TenantView {
	if t == nil {
		return nil
	}
	return &TenantView{
		ID:        t.ID,
		Status:    string(t.Status),
		LastError: t.LastError,
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

// FormatTenants converts a tenant list.
func (p *DrivePresenter) FormatTenants(list []*tenant.Tenant) []*TenantView {
	out := make([]*TenantView, 0, len(list))
	for _, t := range list {
		if v := p.FormatTenant(t); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
