package events

import (
	"slices"
	"sync"

	"drivesync/domain/events"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// SyncEventBus fans sync events out to subscribed handlers. Handlers run on their own
// goroutines so a slow handler never holds up the pass that published the event.
type SyncEventBus struct {
	mu     sync.RWMutex
	logger *logging.Logger
	wg     sync.WaitGroup

	passCompletedHandlers      []func(events.PassCompletedEvent)
	passFailedHandlers         []func(events.PassFailedEvent)
	passCancelledHandlers      []func(events.PassCancelledEvent)
	fullCrawlCompletedHandlers []func(events.FullCrawlCompletedEvent)
	tenantBrokenHandlers       []func(events.TenantConnectionBrokenEvent)
}

var _ events.JobEventPublisher = (*SyncEventBus)(nil)

// NewSyncEventBus creates an empty bus.
func NewSyncEventBus() *SyncEventBus {
	return &SyncEventBus{
		logger: logging.Default().WithComponent("sync_event_bus"),
	}
}

func (bus *SyncEventBus) OnPassCompleted(handler func(events.PassCompletedEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.passCompletedHandlers = append(bus.passCompletedHandlers, handler)
}

func (bus *SyncEventBus) OnPassFailed(handler func(events.PassFailedEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.passFailedHandlers = append(bus.passFailedHandlers, handler)
}

func (bus *SyncEventBus) OnPassCancelled(handler func(events.PassCancelledEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.passCancelledHandlers = append(bus.passCancelledHandlers, handler)
}

func (bus *SyncEventBus) OnFullCrawlCompleted(handler func(events.FullCrawlCompletedEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.fullCrawlCompletedHandlers = append(bus.fullCrawlCompletedHandlers, handler)
}

func (bus *SyncEventBus) OnTenantConnectionBroken(handler func(events.TenantConnectionBrokenEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.tenantBrokenHandlers = append(bus.tenantBrokenHandlers, handler)
}

func (bus *SyncEventBus) PublishPassCompleted(event events.PassCompletedEvent) {
	bus.mu.RLock()
	handlers := slices.Clone(bus.passCompletedHandlers)
	bus.mu.RUnlock()
	dispatch(bus, "PassCompleted", jobID(event.Job), handlers, event)
}

func (bus *SyncEventBus) PublishPassFailed(event events.PassFailedEvent) {
	bus.mu.RLock()
	handlers := slices.Clone(bus.passFailedHandlers)
	bus.mu.RUnlock()
	dispatch(bus, "PassFailed", jobID(event.Job), handlers, event)
}

func (bus *SyncEventBus) PublishPassCancelled(event events.PassCancelledEvent) {
	bus.mu.RLock()
	handlers := slices.Clone(bus.passCancelledHandlers)
	bus.mu.RUnlock()
	dispatch(bus, "PassCancelled", jobID(event.Job), handlers, event)
}

func (bus *SyncEventBus) PublishFullCrawlCompleted(event events.FullCrawlCompletedEvent) {
	bus.mu.RLock()
	handlers := slices.Clone(bus.fullCrawlCompletedHandlers)
	bus.mu.RUnlock()
	dispatch(bus, "FullCrawlCompleted", jobID(event.Job), handlers, event)
}

func (bus *SyncEventBus) PublishTenantConnectionBroken(event events.TenantConnectionBrokenEvent) {
	bus.mu.RLock()
	handlers := slices.Clone(bus.tenantBrokenHandlers)
	bus.mu.RUnlock()
	dispatch(bus, "TenantConnectionBroken", event.TenantID, handlers, event)
}

// Wait blocks until every handler started so far has returned.
func (bus *SyncEventBus) Wait() {
	bus.wg.Wait()
}

// dispatch runs each handler on its own goroutine and contains handler panics.
func dispatch[E any](bus *SyncEventBus, name, ref string, handlers []func(E), event E) {
	for _, handler := range handlers {
		bus.wg.Add(1)
		go func(h func(E)) {
			defer bus.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					bus.logger.Error("Event handler panicked", "event", name, "ref", ref, "panic", r)
				}
			}()
			h(event)
		}(handler)
	}
}

func jobID(job *jobs.Job) string {
	if job == nil {
		return "unknown"
	}
	return job.ID
}
