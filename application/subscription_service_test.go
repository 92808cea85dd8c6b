package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/subscription"
	"drivesync/test/helpers"
	"drivesync/test/mocks"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSubscriptionService(f *helpers.Fixture, tune func(*SubscriptionSettings)) (*SubscriptionService, *[]time.Duration) {
	settings := DefaultSubscriptionSettings()
	settings.CreateBaseDelay = time.Second
	if tune != nil {
		tune(&settings)
	}
	f.Subscriptions.Now = func() time.Time { return testNow }

	svc := NewSubscriptionService(f.Cursors, f.Subscriptions, settings)
	svc.now = func() time.Time { return testNow }
	delays := &[]time.Duration{}
	svc.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return svc, delays
}

// seedLive registers a remote subscription and stores it on the drive's checkpoint.
func seedLive(t *testing.T, f *helpers.Fixture, scope drive.DriveScope, expiresAt time.Time) string {
	t.Helper()
	remote, err := f.Subscriptions.Create(context.Background(), contracts.CreateSubscriptionRequest{
		Scope:       scope,
		ClientState: "secret-" + scope.DriveID,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	f.SeedState(t, helpers.WithSubscription(helpers.DeltaReady(scope, "tok"), remote.ID, subscription.StateActive, expiresAt, remote.ClientState))
	return remote.ID
}

// resetCrawl does what the coordinator does for a crawl restart on an idle scope.
func resetCrawl(t *testing.T, f *helpers.Fixture, scope drive.DriveScope) {
	t.Helper()
	require.NoError(t, f.Cursors.SaveProgress(context.Background(), scope, checkpoint.RestartCrawl()))
}

func TestSubscriptionService_Ensure_CreatesSubscription(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "tok"))
	svc, _ := newTestSubscriptionService(f, nil)

	// Act
	err := svc.Ensure(context.Background(), scope)

	// Assert
	require.NoError(t, err)
	state := f.State(t, scope)
	assert.Equal(t, subscription.StateActive, state.SubscriptionState)
	assert.Equal(t, "sub-1", state.SubscriptionID)
	assert.NotEmpty(t, state.ClientState)
	require.NotNil(t, state.SubscriptionExpiresAt)
	assert.True(t, state.SubscriptionExpiresAt.Equal(testNow.Add(72*time.Hour)))
	assert.Equal(t, "tok", state.DeltaToken, "cursor columns are untouched")
	require.Len(t, f.Subscriptions.Created, 1)
	assert.Equal(t, state.ClientState, f.Subscriptions.Created[0].ClientState)
}

func TestSubscriptionService_Ensure_NoOps(t *testing.T) {
	tests := []struct {
		name  string
		state func(f *helpers.Fixture, t *testing.T) drive.DriveScope
	}{
		{
			name: "crawl not finished",
			state: func(f *helpers.Fixture, t *testing.T) drive.DriveScope {
				scope := helpers.Scope("d1")
				f.SeedState(t, checkpoint.NewDeltaState(scope))
				return scope
			},
		},
		{
			name: "live subscription",
			state: func(f *helpers.Fixture, t *testing.T) drive.DriveScope {
				scope := helpers.Scope("d1")
				seedLive(t, f, scope, testNow.Add(time.Hour))
				return scope
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := tt.state(f, t)
			svc, _ := newTestSubscriptionService(f, nil)
			before := len(f.Subscriptions.Created)

			// Act
			err := svc.Ensure(context.Background(), scope)

			// Assert
			require.NoError(t, err)
			assert.Len(t, f.Subscriptions.Created, before)
		})
	}
}

func TestSubscriptionService_Ensure_RetriesTransientWithBackoff(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "tok"))
	f.Subscriptions.CreateErrs = []error{contracts.ErrTransient, contracts.ErrTransient, nil}
	svc, delays := newTestSubscriptionService(f, nil)

	// Act
	err := svc.Ensure(context.Background(), scope)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	assert.Len(t, f.Subscriptions.Created, 3)
	clientState := f.Subscriptions.Created[0].ClientState
	for _, req := range f.Subscriptions.Created {
		assert.Equal(t, clientState, req.ClientState, "retries reuse the same client state")
	}
	assert.Equal(t, subscription.StateActive, f.State(t, scope).SubscriptionState)
}

func TestSubscriptionService_Ensure_Failures(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantErr   error
		wantCalls int
	}{
		{
			name:      "non transient error is not retried",
			errs:      []error{contracts.ErrUnauthorized},
			attempts:  5,
			wantErr:   contracts.ErrUnauthorized,
			wantCalls: 1,
		},
		{
			name:      "attempts exhausted",
			errs:      []error{contracts.ErrTransient, contracts.ErrTransient, contracts.ErrTransient},
			attempts:  3,
			wantErr:   contracts.ErrTransient,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := helpers.Scope("d1")
			f.SeedState(t, helpers.DeltaReady(scope, "tok"))
			f.Subscriptions.CreateErrs = tt.errs
			svc, _ := newTestSubscriptionService(f, func(s *SubscriptionSettings) { s.CreateMaxAttempts = tt.attempts })

			// Act
			err := svc.Ensure(context.Background(), scope)

			// Assert
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Len(t, f.Subscriptions.Created, tt.wantCalls)
			state := f.State(t, scope)
			assert.Equal(t, subscription.StateNone, state.SubscriptionState)
			assert.Empty(t, state.SubscriptionID)
		})
	}
}

func TestSubscriptionService_Ensure_ReplacesExpiredSubscription(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	oldID := seedLive(t, f, scope, testNow.Add(-time.Minute))
	svc, _ := newTestSubscriptionService(f, nil)

	// Act
	err := svc.Ensure(context.Background(), scope)

	// Assert
	require.NoError(t, err)
	assert.Contains(t, f.Subscriptions.Deleted, oldID)
	state := f.State(t, scope)
	assert.NotEqual(t, oldID, state.SubscriptionID)
	assert.Equal(t, subscription.StateActive, state.SubscriptionState)
}

func TestSubscriptionService_Renew(t *testing.T) {
	t.Run("extends expiry", func(t *testing.T) {
		// Arrange
		f := helpers.NewFixture()
		scope := helpers.Scope("d1")
		id := seedLive(t, f, scope, testNow.Add(10*time.Minute))
		svc, _ := newTestSubscriptionService(f, nil)

		// Act
		err := svc.Renew(context.Background(), scope)

		// Assert
		require.NoError(t, err)
		state := f.State(t, scope)
		assert.Equal(t, subscription.StateActive, state.SubscriptionState)
		assert.Equal(t, id, state.SubscriptionID)
		assert.True(t, state.SubscriptionExpiresAt.Equal(testNow.Add(72*time.Hour)))
	})

	t.Run("stores the expiry the remote granted", func(t *testing.T) {
		// Arrange
		f := helpers.NewFixture()
		scope := helpers.Scope("d1")
		seedLive(t, f, scope, testNow.Add(10*time.Minute))
		f.Subscriptions.MaxTTL = 24 * time.Hour
		svc, _ := newTestSubscriptionService(f, nil)

		// Act
		err := svc.Renew(context.Background(), scope)

		// Assert
		require.NoError(t, err)
		assert.True(t, f.State(t, scope).SubscriptionExpiresAt.Equal(testNow.Add(24*time.Hour)))
	})

	t.Run("remote no longer knows the subscription", func(t *testing.T) {
		// Arrange
		f := helpers.NewFixture()
		scope := helpers.Scope("d1")
		id := seedLive(t, f, scope, testNow.Add(10*time.Minute))
		f.Subscriptions.Drop(id)
		svc, _ := newTestSubscriptionService(f, nil)

		// Act
		err := svc.Renew(context.Background(), scope)

		// Assert
		assert.ErrorIs(t, err, contracts.ErrNotFound)
		assert.Equal(t, subscription.StateExpired, f.State(t, scope).SubscriptionState)
	})

	t.Run("transient failure restores active", func(t *testing.T) {
		// Arrange
		f := helpers.NewFixture()
		scope := helpers.Scope("d1")
		expires := testNow.Add(10 * time.Minute)
		seedLive(t, f, scope, expires)
		f.Subscriptions.RenewErr = contracts.ErrTransient
		svc, _ := newTestSubscriptionService(f, nil)

		// Act
		err := svc.Renew(context.Background(), scope)

		// Assert
		assert.ErrorIs(t, err, contracts.ErrTransient)
		state := f.State(t, scope)
		assert.Equal(t, subscription.StateActive, state.SubscriptionState)
		assert.True(t, state.SubscriptionExpiresAt.Equal(expires))
	})

	t.Run("no live subscription", func(t *testing.T) {
		// Arrange
		f := helpers.NewFixture()
		scope := helpers.Scope("d1")
		f.SeedState(t, helpers.DeltaReady(scope, "tok"))
		svc, _ := newTestSubscriptionService(f, nil)

		// Act
		err := svc.Renew(context.Background(), scope)

		// Assert
		assert.Error(t, err)
		assert.Empty(t, f.Subscriptions.Renewed)
	})
}

func TestSubscriptionService_RenewDue(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	due := helpers.Scope("due")
	later := helpers.Scope("later")
	lapsed := helpers.Scope("lapsed")
	other := drive.DriveScope{TenantID: "t2", SiteID: "s1", DriveID: "due"}
	seedLive(t, f, due, testNow.Add(10*time.Minute))
	seedLive(t, f, later, testNow.Add(48*time.Hour))
	seedLive(t, f, lapsed, testNow.Add(-time.Minute))
	seedLive(t, f, other, testNow.Add(5*time.Minute))
	svc, _ := newTestSubscriptionService(f, nil)

	// Act
	report, err := svc.RenewDue(context.Background(), "t1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, []drive.DriveScope{lapsed}, report.Expired)
	assert.Equal(t, 0, report.Failed)

	assert.True(t, f.State(t, due).SubscriptionExpiresAt.After(testNow.Add(time.Hour)))
	assert.True(t, f.State(t, later).SubscriptionExpiresAt.Equal(testNow.Add(48*time.Hour)))
	assert.Equal(t, subscription.StateExpired, f.State(t, lapsed).SubscriptionState)
	assert.True(t, f.State(t, other).SubscriptionExpiresAt.Equal(testNow.Add(5*time.Minute)), "other tenants are skipped")
}

func TestSubscriptionService_Teardown_DeletesInBatches(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scopes := []drive.DriveScope{helpers.Scope("a"), helpers.Scope("b"), helpers.Scope("c"), helpers.Scope("d"), helpers.Scope("e")}
	for _, scope := range scopes {
		seedLive(t, f, scope, testNow.Add(time.Hour))
	}
	f.SeedState(t, helpers.DeltaReady(helpers.Scope("nosub"), "tok"))
	svc, _ := newTestSubscriptionService(f, func(s *SubscriptionSettings) { s.TeardownBatchSize = 2 })

	// Act
	removed, err := svc.Teardown(context.Background(), "t1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Len(t, f.Subscriptions.Deleted, 5)
	for _, scope := range scopes {
		state := f.State(t, scope)
		assert.Equal(t, subscription.StateNone, state.SubscriptionState)
		assert.Empty(t, state.SubscriptionID)
	}
	remaining, err := f.Cursors.ListWithSubscriptions(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSubscriptionService_Teardown_StopsOnDeleteError(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	seedLive(t, f, helpers.Scope("a"), testNow.Add(time.Hour))
	f.Subscriptions.DeleteErr = contracts.ErrUnauthorized
	svc, _ := newTestSubscriptionService(f, nil)

	// Act
	removed, err := svc.Teardown(context.Background(), "t1")

	// Assert
	assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.Equal(t, 0, removed)
	assert.NotEmpty(t, f.State(t, helpers.Scope("a")).SubscriptionID, "an unfinished batch is kept for the retry")
}

func TestSubscriptionService_MarkExpiredAndRelease(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	id := seedLive(t, f, scope, testNow.Add(time.Hour))
	svc, _ := newTestSubscriptionService(f, nil)
	ctx := context.Background()

	// Act: release is a no-op while the subscription is live
	require.NoError(t, svc.Release(ctx, scope))
	assert.Equal(t, subscription.StateActive, f.State(t, scope).SubscriptionState)

	require.NoError(t, svc.MarkExpired(ctx, scope))
	require.NoError(t, svc.MarkExpired(ctx, scope), "marking twice is harmless")
	require.NoError(t, svc.Release(ctx, scope))

	// Assert
	state := f.State(t, scope)
	assert.Equal(t, subscription.StateNone, state.SubscriptionState)
	assert.Empty(t, state.SubscriptionID)
	assert.Contains(t, f.Subscriptions.Deleted, id)
	assert.False(t, f.Subscriptions.Live(id))

	found, err := svc.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, found)
}

var _ contracts.SubscriptionClient = (*mocks.FakeSubscriptionClient)(nil)
