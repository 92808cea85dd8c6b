package application

import (
	"context"
	"crypto/subtle"
	"errors"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// Lifecycle events Graph sends on the lifecycle notification URL.
const (
	LifecycleReauthorizationRequired = "reauthorizationRequired"
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleMissed                  = "missed"
)

// ChangeNotification is one entry of a webhook payload.
type ChangeNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType,omitempty"`
	Resource       string `json:"resource,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
	LifecycleEvent string `json:"lifecycleEvent,omitempty"`
}

// NotificationResult counts what a webhook delivery did.
type NotificationResult struct {
	Triggered int `json:"triggered"`
	Renewed   int `json:"renewed"`
	Recrawled int `json:"recrawled"`
	Rejected  int `json:"rejected"`
	Unknown   int `json:"unknown"`
	Failed    int `json:"failed"`
}

// NotificationService turns webhook deliveries into passes and subscription actions.
type NotificationService struct {
	cursors       contracts.CursorStore
	subscriptions *SubscriptionService
	passes        PassTrigger
	logger        *logging.Logger
}

// NewNotificationService creates a notification service.
func NewNotificationService(cursors contracts.CursorStore, subscriptions *SubscriptionService, passes PassTrigger) *NotificationService {
	return &NotificationService{
		cursors:       cursors,
		subscriptions: subscriptions,
		passes:        passes,
		logger:        logging.Default().WithComponent("notification_service"),
	}
}

// Handle processes a batch of notifications. Entries with an unknown subscription or a
// clientState mismatch are ignored.
func (s *NotificationService) Handle(ctx context.Context, notifications []ChangeNotification) NotificationResult {
	var result NotificationResult

	for _, n := range notifications {
		state, err := s.subscriptions.Lookup(ctx, n.SubscriptionID)
		if err != nil {
			s.logger.Error("Subscription lookup failed", "subscription_id", n.SubscriptionID, "error", err)
			result.Failed++
			continue
		}
		if state == nil {
			s.logger.Warn("Notification for unknown subscription", "subscription_id", n.SubscriptionID)
			result.Unknown++
			continue
		}
		if !clientStateMatches(state.ClientState, n.ClientState) {
			s.logger.Security("Notification clientState mismatch",
				"subscription_id", n.SubscriptionID,
				"tenant_id", state.Scope.TenantID)
			result.Rejected++
			continue
		}

		switch n.LifecycleEvent {
		case "", LifecycleMissed:
			s.triggerDelta(ctx, state, jobs.TriggerWebhook, &result)
		case LifecycleReauthorizationRequired:
			if err := s.subscriptions.Renew(ctx, state.Scope); err != nil {
				s.logger.WithScope(state.Scope).Error("Reauthorization renewal failed", "error", err)
				if errors.Is(err, contracts.ErrNotFound) {
					s.recrawl(ctx, state, &result)
					continue
				}
				result.Failed++
				continue
			}
			result.Renewed++
		case LifecycleSubscriptionRemoved:
			if err := s.subscriptions.MarkExpired(ctx, state.Scope); err != nil {
				s.logger.WithScope(state.Scope).Error("Failed to mark subscription expired", "error", err)
				result.Failed++
				continue
			}
			s.recrawl(ctx, state, &result)
		default:
			s.logger.Debug("Ignoring lifecycle event", "event", n.LifecycleEvent, "subscription_id", n.SubscriptionID)
		}
	}
	return result
}

func (s *NotificationService) triggerDelta(ctx context.Context, state *checkpoint.DeltaState, trigger jobs.Trigger, result *NotificationResult) {
	if _, err := s.passes.TriggerPass(ctx, state.Scope, trigger); err != nil {
		s.logger.WithScope(state.Scope).Warn("Could not trigger pass", "error", err.Error())
		result.Failed++
		return
	}
	result.Triggered++
}

// recrawl sends the drive back to a full crawl; the new subscription follows the crawl.
func (s *NotificationService) recrawl(ctx context.Context, state *checkpoint.DeltaState, result *NotificationResult) {
	if _, err := s.passes.RestartCrawl(ctx, state.Scope, jobs.TriggerResync); err != nil {
		s.logger.WithScope(state.Scope).Error("Failed to restart crawl", "error", err)
		result.Failed++
		return
	}
	if err := s.subscriptions.Release(ctx, state.Scope); err != nil {
		s.logger.WithScope(state.Scope).Warn("Could not release expired subscription", "error", err.Error())
	}
	result.Recrawled++
}

func clientStateMatches(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
