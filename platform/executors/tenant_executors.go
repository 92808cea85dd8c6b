package executors

import (
	"context"
	"encoding/json"

	"drivesync/application"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// SubscriptionRenewer renews the subscriptions of a tenant that are due.
type SubscriptionRenewer interface {
	RenewDue(ctx context.Context, tenantID string) (application.RenewalReport, error)
}

// TenantTeardown removes everything a tenant owns.
type TenantTeardown interface {
	Teardown(ctx context.Context, tenantID string) (int, error)
}

// RenewalExecutor runs subscription_renewal jobs.
type RenewalExecutor struct {
	renewer SubscriptionRenewer
	logger  *logging.Logger
}

// NewRenewalExecutor creates a renewal executor.
func NewRenewalExecutor(renewer SubscriptionRenewer) *RenewalExecutor {
	return &RenewalExecutor{
		renewer: renewer,
		logger:  logging.Default().WithComponent("renewal_executor"),
	}
}

type renewalResultData struct {
	Renewed int      `json:"renewed"`
	Expired []string `json:"expired,omitempty"`
	Failed  int      `json:"failed"`
}

// Execute implements application.JobExecutor.
func (e *RenewalExecutor) Execute(ctx context.Context, job *jobs.Job, progressCallback application.ProgressCallback) error {
	tenantID := job.Scope().TenantID
	progressCallback("renewing", "Renewing subscriptions", 0, 0, 0)

	report, err := e.renewer.RenewDue(ctx, tenantID)

	data := renewalResultData{Renewed: report.Renewed, Failed: report.Failed}
	for _, scope := range report.Expired {
		data.Expired = append(data.Expired, scope.Key())
	}
	job.RecordStats(jobs.JobStats{SubscriptionsDone: report.Renewed, ErrorsEncountered: report.Failed})
	if resultJSON, jerr := json.Marshal(data); jerr == nil {
		job.Result = string(resultJSON)
	}

	done := report.Renewed + report.Failed + len(report.Expired)
	progressCallback("renewing", "Subscriptions processed", 100, done, done)
	e.logger.Info("Renewal sweep finished",
		"tenant_id", tenantID,
		"renewed", report.Renewed,
		"expired", len(report.Expired),
		"failed", report.Failed)
	return err
}

// TeardownExecutor runs tenant_teardown jobs.
type TeardownExecutor struct {
	tenants TenantTeardown
	logger  *logging.Logger
}

// NewTeardownExecutor creates a teardown executor.
func NewTeardownExecutor(tenants TenantTeardown) *TeardownExecutor {
	return &TeardownExecutor{
		tenants: tenants,
		logger:  logging.Default().WithComponent("teardown_executor"),
	}
}

// Execute implements application.JobExecutor.
func (e *TeardownExecutor) Execute(ctx context.Context, job *jobs.Job, progressCallback application.ProgressCallback) error {
	tenantID := job.Scope().TenantID
	progressCallback("teardown", "Deleting subscriptions", 0, 0, 0)

	removed, err := e.tenants.Teardown(ctx, tenantID)
	job.RecordStats(jobs.JobStats{SubscriptionsDone: removed})
	if err != nil {
		e.logger.Error("Tenant teardown stopped", "tenant_id", tenantID, "removed", removed, "error", err)
		return err
	}

	job.Result = `{"tenant_removed":true}`
	progressCallback("teardown", "Tenant removed", 100, removed, removed)
	e.logger.Info("Tenant teardown finished", "tenant_id", tenantID, "subscriptions_deleted", removed)
	return nil
}
