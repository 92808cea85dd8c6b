package drive

import (
	"fmt"
	"strings"
)

// DriveScope identifies one synchronization unit: a single drive inside a site of a tenant.
// Exactly one checkpoint record exists per scope.
type DriveScope struct {
	TenantID string `json:"tenantId"`
	SiteID   string `json:"siteId"`
	DriveID  string `json:"driveId"`
}

// Key returns the canonical "tenant/site/drive" form used for locking and logging.
func (s DriveScope) Key() string {
	return s.TenantID + "/" + s.SiteID + "/" + s.DriveID
}

func (s DriveScope) String() string {
	return s.Key()
}

// Validate checks that every component of the scope is present.
func (s DriveScope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return fmt.Errorf("drive scope: tenant id is required")
	}
	if strings.TrimSpace(s.SiteID) == "" {
		return fmt.Errorf("drive scope: site id is required")
	}
	if strings.TrimSpace(s.DriveID) == "" {
		return fmt.Errorf("drive scope: drive id is required")
	}
	return nil
}

// ParseScopeKey is the inverse of Key.
func ParseScopeKey(key string) (DriveScope, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return DriveScope{}, fmt.Errorf("malformed scope key: %q", key)
	}
	scope := DriveScope{TenantID: parts[0], SiteID: parts[1], DriveID: parts[2]}
	return scope, scope.Validate()
}
