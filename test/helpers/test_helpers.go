package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
	"drivesync/domain/subscription"
	"drivesync/domain/tenant"
	"drivesync/infrastructure/repositories"
	"drivesync/test/mocks"
)

// Scope returns a drive scope in tenant t1, site s1.
func Scope(driveID string) drive.DriveScope {
	return drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: driveID}
}

// ActiveTenant returns an active tenant record.
func ActiveTenant(id string) *tenant.Tenant {
	now := time.Now().UTC()
	return &tenant.Tenant{ID: id, Status: tenant.StatusActive, CreatedAt: now, UpdatedAt: now}
}

// Fixture bundles the in-memory collaborators most service tests need.
type Fixture struct {
	Cursors       *repositories.MemoryCursorStore
	Tenants       *mocks.MemoryTenantRepository
	Jobs          *mocks.MemoryJobRepository
	Feed          *mocks.FakeItemFeed
	Permissions   *mocks.FakePermissionFetcher
	Sink          *mocks.RecordingSink
	Subscriptions *mocks.FakeSubscriptionClient
	Events        *mocks.RecordingEventPublisher
}

// NewFixture creates empty fakes with tenant t1 registered and active.
func NewFixture() *Fixture {
	return &Fixture{
		Cursors:       repositories.NewMemoryCursorStore(),
		Tenants:       mocks.NewMemoryTenantRepository(ActiveTenant("t1")),
		Jobs:          mocks.NewMemoryJobRepository(),
		Feed:          mocks.NewFakeItemFeed(),
		Permissions:   mocks.NewFakePermissionFetcher(),
		Sink:          mocks.NewRecordingSink(),
		Subscriptions: mocks.NewFakeSubscriptionClient(),
		Events:        &mocks.RecordingEventPublisher{},
	}
}

// SeedState stores a checkpoint including its subscription columns.
func (f *Fixture) SeedState(t *testing.T, state *checkpoint.DeltaState) {
	t.Helper()
	require.NoError(t, f.Cursors.Create(context.Background(), state))
}

// State loads a checkpoint and fails the test when it is missing.
func (f *Fixture) State(t *testing.T, scope drive.DriveScope) *checkpoint.DeltaState {
	t.Helper()
	state, err := f.Cursors.Get(context.Background(), scope)
	require.NoError(t, err)
	require.NotNil(t, state, "no checkpoint for %s", scope)
	return state
}

// DeltaReady returns a checkpoint idle at the given delta token.
func DeltaReady(scope drive.DriveScope, token string) *checkpoint.DeltaState {
	state := checkpoint.NewDeltaState(scope)
	state.Phase = checkpoint.PhaseDeltaReady
	state.DeltaToken = token
	return state
}

// WithSubscription attaches a subscription to a checkpoint.
func WithSubscription(state *checkpoint.DeltaState, id string, st subscription.State, expiresAt time.Time, clientState string) *checkpoint.DeltaState {
	state.SubscriptionID = id
	state.SubscriptionState = st
	state.SubscriptionExpiresAt = &expiresAt
	state.ClientState = clientState
	return state
}

// Item builds a shared item.
func Item(id, parentID, owner string) drive.Item {
	return drive.Item{ID: id, Name: id, ParentID: parentID, OwnerUserID: owner, Shared: true}
}

// Direct builds a direct grant to a user.
func Direct(id, email string) drive.RawPermission {
	return drive.RawPermission{ID: id, Roles: []string{"read"}, Scope: drive.ScopeDirect, GrantedUser: &drive.Grantee{ID: "u-" + email, Email: email}}
}

// Anonymous builds an "anyone with the link" grant.
func Anonymous(id string) drive.RawPermission {
	return drive.RawPermission{ID: id, Roles: []string{"read"}, Scope: drive.ScopeAnonymous}
}

// UsersLink builds a link restricted to named users.
func UsersLink(id string, emails ...string) drive.RawPermission {
	p := drive.RawPermission{ID: id, Roles: []string{"read"}, Scope: drive.ScopeUsers}
	for _, e := range emails {
		p.GrantedUsers = append(p.GrantedUsers, drive.Grantee{ID: "u-" + e, Email: e})
	}
	return p
}

// Eventually waits for cond with the defaults used across the suite.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
