package tenant

import (
	"fmt"
	"time"
)

// Status is the connection status of a tenant.
type Status string

const (
	// StatusActive tenants are synced.
	StatusActive Status = "active"
	// StatusBroken tenants hit a fatal error; no passes are scheduled until re-registration.
	StatusBroken Status = "broken"
	// StatusUninstalling tenants are tearing down their subscriptions.
	StatusUninstalling Status = "uninstalling"
)

// ParseStatus converts a stored value back to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusBroken, StatusUninstalling:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown tenant status: %q", s)
	}
}

// Tenant is an installed customer directory.
type Tenant struct {
	ID        string
	Status    Status
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanSync reports whether passes may be scheduled for the tenant.
func (t *Tenant) CanSync() bool {
	return t != nil && t.Status == StatusActive
}
