package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/domain/tenant"
	"drivesync/logging"
)

// PassTrigger starts and cancels passes. PassCoordinator implements it.
type PassTrigger interface {
	TriggerPass(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error)
	RunTenantJob(ctx context.Context, tenantID string, jobType jobs.JobType, trigger jobs.Trigger) (*jobs.Job, error)
	RestartCrawl(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error)
	CancelScope(scope drive.DriveScope) bool
	CancelTenant(tenantID string) int
}

// TenantService registers drives and installs or removes tenants.
type TenantService struct {
	tenants       contracts.TenantRepository
	cursors       contracts.CursorStore
	drives        contracts.DriveLister
	subscriptions *SubscriptionService
	passes        PassTrigger
	now           func() time.Time
	logger        *logging.Logger
}

// NewTenantService creates a tenant service.
func NewTenantService(
	tenants contracts.TenantRepository,
	cursors contracts.CursorStore,
	drives contracts.DriveLister,
	subscriptions *SubscriptionService,
	passes PassTrigger,
) *TenantService {
	return &TenantService{
		tenants:       tenants,
		cursors:       cursors,
		drives:        drives,
		subscriptions: subscriptions,
		passes:        passes,
		now:           time.Now,
		logger:        logging.Default().WithComponent("tenant_service"),
	}
}

// RegisterTenant creates the tenant or reactivates a broken one. Reactivation sends every
// drive of the tenant back to a fresh full crawl. Uninstalling tenants are left alone until
// their teardown finishes.
func (s *TenantService) RegisterTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	existing, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if existing != nil && existing.Status == tenant.StatusUninstalling {
		return nil, fmt.Errorf("tenant %s is uninstalling: %w", tenantID, contracts.ErrTenantInactive)
	}
	if existing != nil {
		if existing.Status != tenant.StatusActive {
			if err := s.tenants.SetStatus(ctx, tenantID, tenant.StatusActive); err != nil {
				return nil, err
			}
			existing.Status = tenant.StatusActive
			existing.LastError = ""
			restarted, err := s.restartTenantCrawls(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			s.logger.Security("Tenant reactivated", "tenant_id", tenantID, "restarted_drives", restarted)
		}
		return existing, nil
	}

	now := s.now().UTC()
	t := &tenant.Tenant{ID: tenantID, Status: tenant.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := s.tenants.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("save tenant %s: %w", tenantID, err)
	}
	s.logger.Info("Tenant registered", "tenant_id", tenantID)
	return t, nil
}

func (s *TenantService) restartTenantCrawls(ctx context.Context, tenantID string) (int, error) {
	states, err := s.cursors.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("load checkpoints of %s: %w", tenantID, err)
	}
	for _, state := range states {
		if err := s.cursors.SaveProgress(ctx, state.Scope, checkpoint.RestartCrawl()); err != nil {
			return 0, fmt.Errorf("restart crawl of %s: %w", state.Scope, err)
		}
	}
	return len(states), nil
}

// RegisterDrive creates the drive's checkpoint in the full crawl phase and starts the crawl.
// A drive that is already registered keeps a usable checkpoint and gets a pass for whatever
// phase it is in. A checkpoint that can neither crawl nor run a delta pass is reset.
func (s *TenantService) RegisterDrive(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.RegisterTenant(ctx, scope.TenantID); err != nil {
		return nil, err
	}

	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		if err := s.cursors.Create(ctx, checkpoint.NewDeltaState(scope)); err != nil {
			return nil, fmt.Errorf("create checkpoint for %s: %w", scope, err)
		}
		s.logger.WithScope(scope).Info("Drive registered")
	} else if state.Phase != checkpoint.PhaseFullCrawl && !state.CanRunDelta() {
		if err := s.cursors.SaveProgress(ctx, scope, checkpoint.RestartCrawl()); err != nil {
			return nil, fmt.Errorf("restart crawl of %s: %w", scope, err)
		}
		s.logger.WithScope(scope).Warn("Unusable checkpoint reset to a full crawl", "phase", state.Phase)
	}

	return s.passes.TriggerPass(ctx, scope, trigger)
}

// RegisterSite registers every drive of a site.
func (s *TenantService) RegisterSite(ctx context.Context, tenantID, siteID string, trigger jobs.Trigger) ([]drive.DriveScope, error) {
	if _, err := s.RegisterTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	list, err := s.drives.ListDrives(ctx, tenantID, siteID)
	if err != nil {
		if contracts.IsFatal(err) {
			_ = s.MarkBroken(ctx, tenantID, err.Error())
		}
		return nil, fmt.Errorf("list drives of site %s: %w", siteID, err)
	}

	scopes := make([]drive.DriveScope, 0, len(list))
	var errs []error
	for _, d := range list {
		scope := drive.DriveScope{TenantID: tenantID, SiteID: siteID, DriveID: d.ID}
		if _, err := s.RegisterDrive(ctx, scope, trigger); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scope, err))
			continue
		}
		scopes = append(scopes, scope)
	}

	s.logger.Info("Site registered", "tenant_id", tenantID, "site_id", siteID, "drives", len(scopes))
	return scopes, errors.Join(errs...)
}

// ListDrives returns the checkpoints of a tenant.
func (s *TenantService) ListDrives(ctx context.Context, tenantID string) ([]*checkpoint.DeltaState, error) {
	return s.cursors.ListByTenant(ctx, tenantID)
}

// GetTenant returns a tenant or nil.
func (s *TenantService) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return s.tenants.Get(ctx, tenantID)
}

// ListTenants returns all tenants.
func (s *TenantService) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	return s.tenants.List(ctx)
}

// MarkBroken stops scheduling for a tenant and cancels its passes.
func (s *TenantService) MarkBroken(ctx context.Context, tenantID, reason string) error {
	if err := s.tenants.MarkBroken(ctx, tenantID, reason); err != nil {
		return fmt.Errorf("mark tenant %s broken: %w", tenantID, err)
	}
	s.passes.CancelTenant(tenantID)
	s.logger.Security("Tenant connection broken", "tenant_id", tenantID, "reason", reason)
	return nil
}

// Uninstall cancels the tenant's passes and starts the teardown job.
func (s *TenantService) Uninstall(ctx context.Context, tenantID string) (*jobs.Job, error) {
	existing, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, contracts.ErrNotFound)
	}

	if err := s.tenants.SetStatus(ctx, tenantID, tenant.StatusUninstalling); err != nil {
		return nil, err
	}
	cancelled := s.passes.CancelTenant(tenantID)
	s.logger.Info("Tenant uninstall started", "tenant_id", tenantID, "cancelled_passes", cancelled)

	return s.passes.RunTenantJob(ctx, tenantID, jobs.JobTypeTenantTeardown, jobs.TriggerManual)
}

// Teardown removes the tenant's subscriptions, checkpoints and record. It is what the teardown
// job runs and is safe to repeat.
func (s *TenantService) Teardown(ctx context.Context, tenantID string) (int, error) {
	removed, err := s.subscriptions.Teardown(ctx, tenantID)
	if err != nil {
		return removed, err
	}
	if err := s.cursors.DeleteByTenant(ctx, tenantID); err != nil {
		return removed, fmt.Errorf("delete checkpoints of %s: %w", tenantID, err)
	}
	if err := s.tenants.Delete(ctx, tenantID); err != nil {
		return removed, fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}
	s.logger.Info("Tenant removed", "tenant_id", tenantID, "subscriptions_deleted", removed)
	return removed, nil
}
