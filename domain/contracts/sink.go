package contracts

import (
	"context"
	"time"

	"drivesync/domain/drive"
)

// SinkPublisher sends idempotent operations to the downstream security index.
type SinkPublisher interface {
	// UpdateObjects upserts objects by id.
	UpdateObjects(ctx context.Context, scope drive.DriveScope, objects []drive.SecurityObject) error

	// DeleteObjects removes objects by id. Unknown ids are ignored by the sink.
	DeleteObjects(ctx context.Context, scope drive.DriveScope, ids []string) error

	// DeleteObjectsSyncedBefore removes objects of the scope last synced before cutoff.
	// Used only at the end of a full crawl.
	DeleteObjectsSyncedBefore(ctx context.Context, scope drive.DriveScope, cutoff time.Time) error
}
