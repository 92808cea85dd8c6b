package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/jobs"
	"drivesync/domain/subscription"
	"drivesync/test/helpers"
	"drivesync/test/mocks"
)

func newTestNotificationService(f *helpers.Fixture) (*NotificationService, *mocks.MockPassTrigger) {
	subs, _ := newTestSubscriptionService(f, nil)
	passes := &mocks.MockPassTrigger{}
	return NewNotificationService(f.Cursors, subs, passes), passes
}

func TestNotificationService_Handle_ChangeNotifications(t *testing.T) {
	tests := []struct {
		name           string
		lifecycleEvent string
	}{
		{name: "change", lifecycleEvent: ""},
		{name: "missed", lifecycleEvent: LifecycleMissed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := helpers.Scope("d1")
			id := seedLive(t, f, scope, testNow.Add(time.Hour))
			svc, passes := newTestNotificationService(f)
			passes.On("TriggerPass", mock.Anything, scope, jobs.TriggerWebhook).Return(&jobs.Job{ID: "job-1"}, nil)

			// Act
			result := svc.Handle(context.Background(), []ChangeNotification{{
				SubscriptionID: id,
				ClientState:    "secret-d1",
				LifecycleEvent: tt.lifecycleEvent,
			}})

			// Assert
			assert.Equal(t, NotificationResult{Triggered: 1}, result)
			passes.AssertExpectations(t)
		})
	}
}

func TestNotificationService_Handle_RejectsUntrustedDeliveries(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	id := seedLive(t, f, scope, testNow.Add(time.Hour))
	svc, passes := newTestNotificationService(f)

	// Act
	result := svc.Handle(context.Background(), []ChangeNotification{
		{SubscriptionID: id, ClientState: "forged"},
		{SubscriptionID: id, ClientState: ""},
		{SubscriptionID: "unknown", ClientState: "secret-d1"},
	})

	// Assert
	assert.Equal(t, 2, result.Rejected)
	assert.Equal(t, 1, result.Unknown)
	assert.Equal(t, 0, result.Triggered)
	passes.AssertNotCalled(t, "TriggerPass", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationService_Handle_ReauthorizationRenews(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	id := seedLive(t, f, scope, testNow.Add(10*time.Minute))
	svc, passes := newTestNotificationService(f)

	// Act
	result := svc.Handle(context.Background(), []ChangeNotification{{
		SubscriptionID: id,
		ClientState:    "secret-d1",
		LifecycleEvent: LifecycleReauthorizationRequired,
	}})

	// Assert
	assert.Equal(t, NotificationResult{Renewed: 1}, result)
	assert.Contains(t, f.Subscriptions.Renewed, id)
	assert.True(t, f.State(t, scope).SubscriptionExpiresAt.After(testNow.Add(time.Hour)))
	passes.AssertExpectations(t)
}

func TestNotificationService_Handle_LostSubscriptionRecrawls(t *testing.T) {
	tests := []struct {
		name           string
		lifecycleEvent string
		dropRemote     bool
	}{
		{name: "subscription removed", lifecycleEvent: LifecycleSubscriptionRemoved},
		{name: "reauthorization of vanished subscription", lifecycleEvent: LifecycleReauthorizationRequired, dropRemote: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := helpers.Scope("d1")
			id := seedLive(t, f, scope, testNow.Add(10*time.Minute))
			if tt.dropRemote {
				f.Subscriptions.Drop(id)
			}
			svc, passes := newTestNotificationService(f)
			passes.On("RestartCrawl", mock.Anything, scope, jobs.TriggerResync).
				Run(func(mock.Arguments) { resetCrawl(t, f, scope) }).
				Return(&jobs.Job{ID: "crawl"}, nil)

			// Act
			result := svc.Handle(context.Background(), []ChangeNotification{{
				SubscriptionID: id,
				ClientState:    "secret-d1",
				LifecycleEvent: tt.lifecycleEvent,
			}})

			// Assert
			assert.Equal(t, 1, result.Recrawled)
			passes.AssertExpectations(t)
			state := f.State(t, scope)
			assert.Equal(t, checkpoint.PhaseFullCrawl, state.Phase)
			assert.Empty(t, state.DeltaToken)
			assert.Equal(t, subscription.StateNone, state.SubscriptionState)
			assert.Empty(t, state.SubscriptionID)
		})
	}
}

func TestNotificationService_Handle_TriggerFailureCounted(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	id := seedLive(t, f, scope, testNow.Add(time.Hour))
	svc, passes := newTestNotificationService(f)
	passes.On("TriggerPass", mock.Anything, scope, jobs.TriggerWebhook).Return(nil, contracts.ErrTenantInactive)

	// Act
	result := svc.Handle(context.Background(), []ChangeNotification{{SubscriptionID: id, ClientState: "secret-d1"}})

	// Assert
	assert.Equal(t, NotificationResult{Failed: 1}, result)
	require.Equal(t, checkpoint.PhaseDeltaReady, f.State(t, scope).Phase)
}
