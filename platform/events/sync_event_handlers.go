package events

import (
	"context"
	"time"

	"drivesync/domain/drive"
	"drivesync/domain/events"
	"drivesync/logging"
)

// SubscriptionEnsurer creates the change subscription of a drive.
type SubscriptionEnsurer interface {
	Ensure(ctx context.Context, scope drive.DriveScope) error
}

// TenantCanceller stops the running passes of a tenant.
type TenantCanceller interface {
	CancelTenant(tenantID string) int
}

// SyncEventHandlers reacts to pass outcomes.
type SyncEventHandlers struct {
	subscriptions SubscriptionEnsurer
	passes        TenantCanceller
	timeout       time.Duration
	logger        *logging.Logger
}

// NewSyncEventHandlers creates the handlers. timeout bounds each subscription call.
func NewSyncEventHandlers(subscriptions SubscriptionEnsurer, passes TenantCanceller, timeout time.Duration) *SyncEventHandlers {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SyncEventHandlers{
		subscriptions: subscriptions,
		passes:        passes,
		timeout:       timeout,
		logger:        logging.Default().WithComponent("sync_events"),
	}
}

// RegisterHandlers subscribes every handler to the bus.
func (h *SyncEventHandlers) RegisterHandlers(bus *SyncEventBus) {
	bus.OnPassCompleted(h.handlePassCompleted)
	bus.OnPassFailed(h.handlePassFailed)
	bus.OnPassCancelled(h.handlePassCancelled)
	bus.OnFullCrawlCompleted(h.handleFullCrawlCompleted)
	bus.OnTenantConnectionBroken(h.handleTenantConnectionBroken)
}

func (h *SyncEventHandlers) handlePassCompleted(event events.PassCompletedEvent) {
	if event.Job == nil {
		return
	}
	stats := event.Job.State.Stats
	h.logger.Info("Pass completed",
		"job_id", event.Job.ID,
		"scope", event.Job.ScopeKey(),
		"pages", stats.PagesFetched,
		"upserted", stats.ItemsUpserted,
		"deleted", stats.ItemsDeleted)
}

func (h *SyncEventHandlers) handlePassFailed(event events.PassFailedEvent) {
	h.logger.Warn("Pass failed", "job_id", jobID(event.Job), "error", event.Error, "fatal", event.Fatal)
}

func (h *SyncEventHandlers) handlePassCancelled(event events.PassCancelledEvent) {
	h.logger.Info("Pass cancelled", "job_id", jobID(event.Job))
}

// handleFullCrawlCompleted subscribes the drive once its crawl reached delta_ready.
func (h *SyncEventHandlers) handleFullCrawlCompleted(event events.FullCrawlCompletedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.subscriptions.Ensure(ctx, event.Scope); err != nil {
		// The scheduler retries drives that are missing a subscription.
		h.logger.WithScope(event.Scope).Warn("Subscription creation after crawl failed", "error", err.Error())
		return
	}
	h.logger.WithScope(event.Scope).Debug("Subscription ensured after crawl")
}

func (h *SyncEventHandlers) handleTenantConnectionBroken(event events.TenantConnectionBrokenEvent) {
	n := h.passes.CancelTenant(event.TenantID)
	h.logger.Security("Tenant sync stopped", "tenant_id", event.TenantID, "reason", event.Reason, "cancelled_passes", n)
}
