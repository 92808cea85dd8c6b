package repositories

import (
	"fmt"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
)

// ErrCheckpointNotFound occurs when a partial update targets a drive that has no checkpoint row.
type ErrCheckpointNotFound struct {
	Scope drive.DriveScope
}

func (e ErrCheckpointNotFound) Error() string {
	return fmt.Sprintf("no checkpoint stored for drive %s", e.Scope)
}

func (e ErrCheckpointNotFound) Unwrap() error {
	return contracts.ErrCheckpointMissing
}
