package contracts

import (
	"context"

	"drivesync/domain/tenant"
)

// TenantRepository stores tenant connection status.
type TenantRepository interface {
	// Get returns the tenant, or nil when it was never registered.
	Get(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// Upsert creates the tenant or updates its status.
	Upsert(ctx context.Context, t *tenant.Tenant) error

	// MarkBroken records a fatal error for the tenant.
	MarkBroken(ctx context.Context, tenantID string, reason string) error

	// SetStatus changes the status and clears the last error when moving to active.
	SetStatus(ctx context.Context, tenantID string, status tenant.Status) error

	// List returns all tenants ordered by id.
	List(ctx context.Context) ([]*tenant.Tenant, error)

	// Delete removes a tenant.
	Delete(ctx context.Context, tenantID string) error
}
