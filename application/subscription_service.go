package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/subscription"
	"drivesync/logging"
)

// SubscriptionSettings controls creation retries and teardown batching.
type SubscriptionSettings struct {
	Policy            subscription.Policy
	TeardownBatchSize int
	CreateMaxAttempts int
	CreateBaseDelay   time.Duration
}

// DefaultSubscriptionSettings returns the production defaults.
func DefaultSubscriptionSettings() SubscriptionSettings {
	return SubscriptionSettings{
		Policy:            subscription.DefaultPolicy(),
		TeardownBatchSize: 20,
		CreateMaxAttempts: 5,
		CreateBaseDelay:   2 * time.Second,
	}
}

// RenewalReport summarizes one renewal sweep.
type RenewalReport struct {
	Renewed int
	Expired []drive.DriveScope
	Failed  int
}

// SubscriptionService keeps one push subscription alive per drive. It only writes the
// subscription columns of the checkpoint.
type SubscriptionService struct {
	cursors  contracts.CursorStore
	client   contracts.SubscriptionClient
	settings SubscriptionSettings
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *logging.Logger
}

// NewSubscriptionService creates a lifecycle manager.
func NewSubscriptionService(cursors contracts.CursorStore, client contracts.SubscriptionClient, settings SubscriptionSettings) *SubscriptionService {
	defaults := DefaultSubscriptionSettings()
	if settings.TeardownBatchSize <= 0 {
		settings.TeardownBatchSize = defaults.TeardownBatchSize
	}
	if settings.CreateMaxAttempts <= 0 {
		settings.CreateMaxAttempts = defaults.CreateMaxAttempts
	}
	if settings.CreateBaseDelay <= 0 {
		settings.CreateBaseDelay = defaults.CreateBaseDelay
	}
	if settings.Policy.TTL == 0 {
		settings.Policy = defaults.Policy
	}
	return &SubscriptionService{
		cursors:  cursors,
		client:   client,
		settings: settings,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   logging.Default().WithComponent("subscription_service"),
	}
}

// Policy returns the timing rules in force.
func (s *SubscriptionService) Policy() subscription.Policy {
	return s.settings.Policy
}

// Ensure creates a subscription for a drive that has reached the delta phase and has no live
// one. Failures are retried with exponential backoff; published crawl results are untouched.
func (s *SubscriptionService) Ensure(ctx context.Context, scope drive.DriveScope) error {
	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}
	if state.Phase == checkpoint.PhaseFullCrawl {
		s.logger.WithScope(scope).Debug("Subscription deferred until the crawl completes")
		return nil
	}

	now := s.now()
	current := state.SubscriptionState
	if current.IsLive() && !s.settings.Policy.IsExpired(current, state.SubscriptionExpiresAt, now) {
		return nil
	}
	if current.IsLive() {
		current = subscription.StateExpired
	}
	if current == subscription.StateExpired {
		if err := s.release(ctx, state); err != nil {
			return err
		}
		current = subscription.StateNone
	}
	if err := subscription.Transition(current, subscription.StateActive); err != nil {
		return err
	}

	remote, err := s.createWithBackoff(ctx, scope)
	if err != nil {
		return err
	}

	expires := remote.ExpiresAt.UTC()
	if err := s.cursors.SaveSubscription(ctx, scope, checkpoint.SubscriptionInfo{
		ID:          remote.ID,
		State:       subscription.StateActive,
		ExpiresAt:   &expires,
		ClientState: remote.ClientState,
	}); err != nil {
		return fmt.Errorf("save subscription for %s: %w", scope, err)
	}

	s.logger.WithScope(scope).Info("Subscription active", "subscription_id", remote.ID, "expires_at", expires)
	return nil
}

func (s *SubscriptionService) createWithBackoff(ctx context.Context, scope drive.DriveScope) (*contracts.RemoteSubscription, error) {
	clientState := uuid.NewString()
	var lastErr error

	for attempt := 0; attempt < s.settings.CreateMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.settings.CreateBaseDelay * time.Duration(1<<uint(attempt-1))
			s.logger.WithScope(scope).Warn("Retrying subscription creation",
				"attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", lastErr.Error())
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		remote, err := s.client.Create(ctx, contracts.CreateSubscriptionRequest{
			Scope:       scope,
			ClientState: clientState,
			ExpiresAt:   s.settings.Policy.ExpiryFrom(s.now()),
		})
		if err == nil {
			if remote.ClientState == "" {
				remote.ClientState = clientState
			}
			return remote, nil
		}
		if !contracts.IsTransient(err) {
			return nil, fmt.Errorf("create subscription for %s: %w", scope, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create subscription for %s after %d attempts: %w", scope, s.settings.CreateMaxAttempts, lastErr)
}

// Renew extends a live subscription. The checkpoint moves to renewing before the remote call
// and back to active with the granted expiry after it. A subscription the remote no longer
// knows is marked expired and ErrNotFound is returned.
func (s *SubscriptionService) Renew(ctx context.Context, scope drive.DriveScope) error {
	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}
	if !state.SubscriptionState.IsLive() || state.SubscriptionID == "" {
		return fmt.Errorf("%s has no live subscription (state %s)", scope, state.SubscriptionState)
	}

	info := state.Subscription()
	if info.State != subscription.StateRenewing {
		if err := subscription.Transition(info.State, subscription.StateRenewing); err != nil {
			return err
		}
		info.State = subscription.StateRenewing
		if err := s.cursors.SaveSubscription(ctx, scope, info); err != nil {
			return fmt.Errorf("save subscription for %s: %w", scope, err)
		}
	}

	granted, err := s.client.Renew(ctx, scope.TenantID, state.SubscriptionID, s.settings.Policy.ExpiryFrom(s.now()))
	if errors.Is(err, contracts.ErrNotFound) {
		if merr := s.MarkExpired(ctx, scope); merr != nil {
			return merr
		}
		return fmt.Errorf("renew %s: %w", scope, err)
	}
	if err != nil {
		info.State = subscription.StateActive
		if serr := s.cursors.SaveSubscription(ctx, scope, info); serr != nil {
			s.logger.WithScope(scope).Error("Failed to restore subscription state", "error", serr)
		}
		return fmt.Errorf("renew %s: %w", scope, err)
	}

	info.State = subscription.StateActive
	info.ExpiresAt = &granted
	if err := s.cursors.SaveSubscription(ctx, scope, info); err != nil {
		return fmt.Errorf("save subscription for %s: %w", scope, err)
	}
	s.logger.WithScope(scope).Debug("Subscription renewed", "subscription_id", info.ID, "expires_at", granted)
	return nil
}

// RenewDue renews every live subscription inside its renewal window. An empty tenantID covers
// all tenants. Subscriptions already past expiry are marked expired and reported.
func (s *SubscriptionService) RenewDue(ctx context.Context, tenantID string) (RenewalReport, error) {
	var report RenewalReport
	now := s.now()

	due, err := s.cursors.ListExpiringBefore(ctx, now.Add(s.settings.Policy.RenewalMargin))
	if err != nil {
		return report, fmt.Errorf("list expiring subscriptions: %w", err)
	}

	var firstErr error
	for _, state := range due {
		if tenantID != "" && state.Scope.TenantID != tenantID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if s.settings.Policy.IsExpired(state.SubscriptionState, state.SubscriptionExpiresAt, now) {
			if err := s.MarkExpired(ctx, state.Scope); err != nil {
				return report, err
			}
			report.Expired = append(report.Expired, state.Scope)
			continue
		}

		err := s.Renew(ctx, state.Scope)
		switch {
		case err == nil:
			report.Renewed++
		case errors.Is(err, contracts.ErrNotFound):
			report.Expired = append(report.Expired, state.Scope)
		case contracts.IsFatal(err):
			return report, err
		default:
			report.Failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return report, firstErr
}

// MarkExpired records that a subscription no longer delivers notifications.
func (s *SubscriptionService) MarkExpired(ctx context.Context, scope drive.DriveScope) error {
	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}
	if state.SubscriptionState == subscription.StateExpired {
		return nil
	}
	if err := subscription.Transition(state.SubscriptionState, subscription.StateExpired); err != nil {
		return err
	}

	info := state.Subscription()
	info.State = subscription.StateExpired
	if err := s.cursors.SaveSubscription(ctx, scope, info); err != nil {
		return fmt.Errorf("save subscription for %s: %w", scope, err)
	}
	s.logger.WithScope(scope).Warn("Subscription expired", "subscription_id", info.ID)
	return nil
}

// Release moves an expired subscription back to none and deletes it remotely. The drive gets
// a new subscription once its next full crawl completes.
func (s *SubscriptionService) Release(ctx context.Context, scope drive.DriveScope) error {
	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}
	if state.SubscriptionState != subscription.StateExpired {
		return nil
	}
	return s.release(ctx, state)
}

func (s *SubscriptionService) release(ctx context.Context, state *checkpoint.DeltaState) error {
	if err := subscription.Transition(subscription.StateExpired, subscription.StateNone); err != nil {
		return err
	}
	if state.SubscriptionID != "" {
		err := s.client.Delete(ctx, state.Scope.TenantID, state.SubscriptionID)
		if err != nil && !contracts.IsTransient(err) {
			return fmt.Errorf("delete subscription %s: %w", state.SubscriptionID, err)
		}
	}
	if err := s.cursors.SaveSubscription(ctx, state.Scope, checkpoint.SubscriptionInfo{State: subscription.StateNone}); err != nil {
		return fmt.Errorf("save subscription for %s: %w", state.Scope, err)
	}
	return nil
}

// Teardown deletes a tenant's subscriptions in batches. Each batch is cleared in the cursor
// store in one transaction before the next one starts, so an interrupted teardown resumes
// where it stopped.
func (s *SubscriptionService) Teardown(ctx context.Context, tenantID string) (int, error) {
	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		batch, err := s.cursors.ListWithSubscriptions(ctx, tenantID, s.settings.TeardownBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("list subscriptions of %s: %w", tenantID, err)
		}
		if len(batch) == 0 {
			break
		}

		scopes := make([]drive.DriveScope, 0, len(batch))
		for _, state := range batch {
			if err := s.client.Delete(ctx, tenantID, state.SubscriptionID); err != nil {
				return deleted, fmt.Errorf("delete subscription %s: %w", state.SubscriptionID, err)
			}
			scopes = append(scopes, state.Scope)
		}

		if err := s.cursors.ClearSubscriptions(ctx, scopes); err != nil {
			return deleted, fmt.Errorf("clear subscriptions of %s: %w", tenantID, err)
		}
		deleted += len(scopes)
		s.logger.Info("Subscription batch removed", "tenant_id", tenantID, "batch", len(scopes), "total", deleted)
	}
	return deleted, nil
}

// Lookup returns the checkpoint owning a subscription, or nil.
func (s *SubscriptionService) Lookup(ctx context.Context, subscriptionID string) (*checkpoint.DeltaState, error) {
	return s.cursors.FindBySubscriptionID(ctx, subscriptionID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
