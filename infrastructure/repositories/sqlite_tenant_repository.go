package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"drivesync/database"
	"drivesync/domain/contracts"
	"drivesync/domain/tenant"
)

// SqliteTenantRepository implements contracts.TenantRepository.
type SqliteTenantRepository struct {
	*BaseRepository
	now func() time.Time
}

// NewSqliteTenantRepository creates a tenant repository with read/write database separation.
func NewSqliteTenantRepository(database *database.Database) contracts.TenantRepository {
	return &SqliteTenantRepository{
		BaseRepository: NewBaseRepository(database),
		now:            time.Now,
	}
}

const tenantColumns = `tenant_id, status, last_error, created_at, updated_at`

func (r *SqliteTenantRepository) scanTenant(row rowScanner) (*tenant.Tenant, error) {
	var (
		t      tenant.Tenant
		status string
	)
	if err := row.Scan(&t.ID, &status, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := tenant.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = parsed
	return &t, nil
}

// Get returns the tenant, or nil when it was never registered.
func (r *SqliteTenantRepository) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	row := r.ReadDB().QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = ?`, tenantID)
	t, err := r.scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Upsert creates the tenant or updates its status and last error.
func (r *SqliteTenantRepository) Upsert(ctx context.Context, t *tenant.Tenant) error {
	now := r.now().UTC()
	_, err := r.WriteDB().ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		t.ID, string(t.Status), t.LastError, now, now)
	return err
}

// MarkBroken records a fatal error for the tenant.
func (r *SqliteTenantRepository) MarkBroken(ctx context.Context, tenantID string, reason string) error {
	_, err := r.WriteDB().ExecContext(ctx,
		`UPDATE tenants SET status = ?, last_error = ?, updated_at = ? WHERE tenant_id = ?`,
		string(tenant.StatusBroken), reason, r.now().UTC(), tenantID)
	return err
}

// SetStatus changes the status; moving to active clears the last error.
func (r *SqliteTenantRepository) SetStatus(ctx context.Context, tenantID string, status tenant.Status) error {
	query := `UPDATE tenants SET status = ?, updated_at = ? WHERE tenant_id = ?`
	if status == tenant.StatusActive {
		query = `UPDATE tenants SET status = ?, last_error = '', updated_at = ? WHERE tenant_id = ?`
	}
	_, err := r.WriteDB().ExecContext(ctx, query, string(status), r.now().UTC(), tenantID)
	return err
}

// List returns all tenants ordered by id.
func (r *SqliteTenantRepository) List(ctx context.Context) ([]*tenant.Tenant, error) {
	rows, err := r.ReadDB().QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]*tenant.Tenant, 0)
	for rows.Next() {
		t, err := r.scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Delete removes a tenant.
func (r *SqliteTenantRepository) Delete(ctx context.Context, tenantID string) error {
	_, err := r.WriteDB().ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = ?`, tenantID)
	return err
}
