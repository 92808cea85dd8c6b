package events

// JobEventPublisher defines the interface for publishing sync events.
type JobEventPublisher interface {
	PublishPassCompleted(event PassCompletedEvent)
	PublishPassFailed(event PassFailedEvent)
	PublishPassCancelled(event PassCancelledEvent)
	PublishFullCrawlCompleted(event FullCrawlCompletedEvent)
	PublishTenantConnectionBroken(event TenantConnectionBrokenEvent)
}
