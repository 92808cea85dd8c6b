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
	"drivesync/domain/subscription"
	"drivesync/domain/tenant"
	"drivesync/logging"
)

// PassScheduler is what the scheduler needs from the coordinator.
type PassScheduler interface {
	PassTrigger
	IsRunning(scope drive.DriveScope) bool
}

// SchedulerSettings controls the maintenance loop.
type SchedulerSettings struct {
	Interval     time.Duration
	JobRetention time.Duration
}

// TickReport counts what one maintenance round did.
type TickReport struct {
	RenewalJobs      int
	Expired          int
	Created          int
	Resumed          int
	TeardownsResumed int
	Errors           int
}

// Scheduler runs periodic maintenance: subscription renewal, expiry handling, missing
// subscriptions and resumption of interrupted passes.
type Scheduler struct {
	tenants       contracts.TenantRepository
	cursors       contracts.CursorStore
	jobRepo       contracts.JobRepository
	subscriptions *SubscriptionService
	passes        PassScheduler
	settings      SchedulerSettings
	now           func() time.Time
	logger        *logging.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(
	tenants contracts.TenantRepository,
	cursors contracts.CursorStore,
	jobRepo contracts.JobRepository,
	subscriptions *SubscriptionService,
	passes PassScheduler,
	settings SchedulerSettings,
) *Scheduler {
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	return &Scheduler{
		tenants:       tenants,
		cursors:       cursors,
		jobRepo:       jobRepo,
		subscriptions: subscriptions,
		passes:        passes,
		settings:      settings,
		now:           time.Now,
		logger:        logging.Default().WithComponent("scheduler"),
	}
}

// Run ticks until ctx is done. The first round runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", "interval", s.settings.Interval.String())
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	for {
		report := s.Tick(ctx)
		if report.Errors > 0 {
			s.logger.Warn("Scheduler round finished with errors", "errors", report.Errors)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one maintenance round.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport
	start := time.Now()

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list tenants", "error", err)
		report.Errors++
		return report
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			return report
		}
		switch t.Status {
		case tenant.StatusActive:
			s.maintainTenant(ctx, t.ID, &report)
		case tenant.StatusUninstalling:
			if _, err := s.passes.RunTenantJob(ctx, t.ID, jobs.JobTypeTenantTeardown, jobs.TriggerScheduler); err != nil {
				s.logger.Error("Failed to resume teardown", "tenant_id", t.ID, "error", err)
				report.Errors++
				continue
			}
			report.TeardownsResumed++
		}
	}

	if s.settings.JobRetention > 0 && s.jobRepo != nil {
		if err := s.jobRepo.DeleteOldJobs(ctx, s.now().Add(-s.settings.JobRetention)); err != nil {
			s.logger.Error("Failed to prune old jobs", "error", err)
			report.Errors++
		}
	}

	s.logger.Debug("Scheduler round complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"renewal_jobs", report.RenewalJobs,
		"expired", report.Expired,
		"created", report.Created,
		"resumed", report.Resumed)
	return report
}

func (s *Scheduler) maintainTenant(ctx context.Context, tenantID string, report *TickReport) {
	states, err := s.cursors.ListByTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error("Failed to list checkpoints", "tenant_id", tenantID, "error", err)
		report.Errors++
		return
	}

	now := s.now()
	policy := s.subscriptions.Policy()
	renewalDue := false

	for _, state := range states {
		scope := state.Scope

		// Notifications may have been lost while the subscription was down, so an expired
		// drive is re-crawled and gets a new subscription when the crawl completes.
		if policy.IsExpired(state.SubscriptionState, state.SubscriptionExpiresAt, now) {
			if err := s.expire(ctx, scope); err != nil {
				s.logger.WithScope(scope).Error("Failed to handle expired subscription", "error", err)
				report.Errors++
				continue
			}
			report.Expired++
			continue
		}

		if policy.RenewalDue(state.SubscriptionState, state.SubscriptionExpiresAt, now) {
			renewalDue = true
		}

		if state.Phase != checkpoint.PhaseFullCrawl && state.SubscriptionState == subscription.StateNone {
			if err := s.subscriptions.Ensure(ctx, scope); err != nil {
				s.logger.WithScope(scope).Warn("Subscription creation failed", "error", err.Error())
				report.Errors++
			} else {
				report.Created++
			}
		}

		if state.NeedsResume() && !s.passes.IsRunning(scope) {
			if _, err := s.passes.TriggerPass(ctx, scope, jobs.TriggerScheduler); err != nil {
				if !errors.Is(err, contracts.ErrTenantInactive) {
					s.logger.WithScope(scope).Error("Failed to resume pass", "error", err)
					report.Errors++
				}
				continue
			}
			report.Resumed++
		}
	}

	if renewalDue {
		if _, err := s.passes.RunTenantJob(ctx, tenantID, jobs.JobTypeSubscriptionRenewal, jobs.TriggerScheduler); err != nil {
			s.logger.Error("Failed to start renewal job", "tenant_id", tenantID, "error", err)
			report.Errors++
			return
		}
		report.RenewalJobs++
	}
}

func (s *Scheduler) expire(ctx context.Context, scope drive.DriveScope) error {
	if err := s.subscriptions.MarkExpired(ctx, scope); err != nil {
		return err
	}
	if _, err := s.passes.RestartCrawl(ctx, scope, jobs.TriggerResync); err != nil {
		return fmt.Errorf("restart crawl for %s: %w", scope, err)
	}
	return s.subscriptions.Release(ctx, scope)
}
