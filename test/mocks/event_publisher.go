package mocks

import (
	"sync"

	"drivesync/domain/events"
)

// RecordingEventPublisher keeps every published event for later assertions.
type RecordingEventPublisher struct {
	mu        sync.Mutex
	Completed []events.PassCompletedEvent
	Failed    []events.PassFailedEvent
	Cancelled []events.PassCancelledEvent
	Crawled   []events.FullCrawlCompletedEvent
	Broken    []events.TenantConnectionBrokenEvent
}

func (r *RecordingEventPublisher) PublishPassCompleted(event events.PassCompletedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed = append(r.Completed, event)
}

func (r *RecordingEventPublisher) PublishPassFailed(event events.PassFailedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, event)
}

func (r *RecordingEventPublisher) PublishPassCancelled(event events.PassCancelledEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancelled = append(r.Cancelled, event)
}

func (r *RecordingEventPublisher) PublishFullCrawlCompleted(event events.FullCrawlCompletedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Crawled = append(r.Crawled, event)
}

func (r *RecordingEventPublisher) PublishTenantConnectionBroken(event events.TenantConnectionBrokenEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Broken = append(r.Broken, event)
}

// Counts returns completed, failed, cancelled, crawled and broken event counts.
func (r *RecordingEventPublisher) Counts() (completed, failed, cancelled, crawled, broken int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Completed), len(r.Failed), len(r.Cancelled), len(r.Crawled), len(r.Broken)
}
