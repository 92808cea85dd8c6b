package events

import (
	"time"

	"drivesync/domain/drive"
	"drivesync/domain/jobs"
)

// PassCompletedEvent is published after a pass persisted its final checkpoint.
type PassCompletedEvent struct {
	Job       *jobs.Job
	Timestamp time.Time
}

// PassFailedEvent is published when a pass stops with an error.
type PassFailedEvent struct {
	Job       *jobs.Job
	Error     string
	Fatal     bool
	Timestamp time.Time
}

// PassCancelledEvent is published when a pass stops because it was cancelled.
type PassCancelledEvent struct {
	Job       *jobs.Job
	Timestamp time.Time
}

// FullCrawlCompletedEvent is published when a drive reaches delta_ready for the first time
// after a crawl. Subscription creation hangs off this event.
type FullCrawlCompletedEvent struct {
	Scope     drive.DriveScope
	Job       *jobs.Job
	Timestamp time.Time
}

// TenantConnectionBrokenEvent is published when a fatal error stops syncing a tenant.
type TenantConnectionBrokenEvent struct {
	TenantID  string
	Reason    string
	Timestamp time.Time
}
