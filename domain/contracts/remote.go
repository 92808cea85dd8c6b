package contracts

import (
	"context"
	"time"

	"drivesync/domain/drive"
)

// ItemTreeFetcher reads the item feed of a drive, one page at a time.
type ItemTreeFetcher interface {
	// FetchPage returns the page at cursor. An empty crawl cursor starts a full crawl.
	// A page with neither NextToken nor DeltaToken is reported as ErrDeltaProtocol.
	FetchPage(ctx context.Context, scope drive.DriveScope, cursor drive.Cursor) (*drive.ItemPage, error)
}

// PermissionFetcher reads the raw sharing grants of one item.
type PermissionFetcher interface {
	// FetchAllPermissions follows pagination to the end. A missing item yields no permissions.
	FetchAllPermissions(ctx context.Context, scope drive.DriveScope, itemID string) ([]drive.RawPermission, error)
}

// DriveInfo describes a drive of a site.
type DriveInfo struct {
	ID        string
	Name      string
	DriveType string
	WebURL    string
}

// DriveLister enumerates the drives of a site.
type DriveLister interface {
	ListDrives(ctx context.Context, tenantID, siteID string) ([]DriveInfo, error)
}

// CreateSubscriptionRequest is the input for creating a push subscription.
type CreateSubscriptionRequest struct {
	Scope       drive.DriveScope
	ClientState string
	ExpiresAt   time.Time
}

// RemoteSubscription is the remote view of a push subscription.
type RemoteSubscription struct {
	ID          string
	ExpiresAt   time.Time
	ClientState string
}

// SubscriptionClient manages push subscriptions on the remote API.
type SubscriptionClient interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*RemoteSubscription, error)
	Renew(ctx context.Context, tenantID, subscriptionID string, expiresAt time.Time) (time.Time, error)
	// Delete is idempotent: a missing subscription is not an error.
	Delete(ctx context.Context, tenantID, subscriptionID string) error
}
