package contracts

import (
	"context"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
)

// CursorStore persists one DeltaState per drive scope.
//
// Progress and subscription columns are written by separate methods so that a sync pass
// and a subscription renewal for the same drive never overwrite each other's fields.
// Every write is atomic.
type CursorStore interface {
	// Create inserts the initial state for a scope, or resets an existing one to it.
	Create(ctx context.Context, state *checkpoint.DeltaState) error

	// Get returns the state for a scope, or nil when none exists.
	Get(ctx context.Context, scope drive.DriveScope) (*checkpoint.DeltaState, error)

	// SaveProgress writes the cursor columns of an existing state.
	SaveProgress(ctx context.Context, scope drive.DriveScope, progress checkpoint.Progress) error

	// SaveSubscription writes the subscription columns of an existing state.
	SaveSubscription(ctx context.Context, scope drive.DriveScope, info checkpoint.SubscriptionInfo) error

	// ClearSubscriptions resets the subscription columns of all given scopes in one transaction.
	ClearSubscriptions(ctx context.Context, scopes []drive.DriveScope) error

	// FindBySubscriptionID returns the state owning a subscription, or nil.
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*checkpoint.DeltaState, error)

	// ListByTenant returns all states of a tenant ordered by scope.
	ListByTenant(ctx context.Context, tenantID string) ([]*checkpoint.DeltaState, error)

	// ListAll returns every state ordered by scope.
	ListAll(ctx context.Context) ([]*checkpoint.DeltaState, error)

	// ListWithSubscriptions returns up to limit states of a tenant that still reference a subscription.
	ListWithSubscriptions(ctx context.Context, tenantID string, limit int) ([]*checkpoint.DeltaState, error)

	// ListExpiringBefore returns live subscriptions expiring before the cutoff.
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*checkpoint.DeltaState, error)

	// Delete removes the state for a scope.
	Delete(ctx context.Context, scope drive.DriveScope) error

	// DeleteByTenant removes every state of a tenant.
	DeleteByTenant(ctx context.Context, tenantID string) error

	Close() error
}
