package contracts

import "errors"

// Sentinel errors shared by the engine and its collaborators.
var (
	// ErrNotFound means the remote object no longer exists. It is treated as "already gone".
	ErrNotFound = errors.New("remote object not found")

	// ErrUnauthorized means the tenant's credentials were rejected. Fatal for the tenant.
	ErrUnauthorized = errors.New("remote authorization failed")

	// ErrTransient covers throttling, 5xx responses and network failures that survived retries.
	ErrTransient = errors.New("transient remote error")

	// ErrMalformedRecord marks a single item or permission payload that failed validation.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrDeltaProtocol means a feed page carried neither a continuation nor a delta token.
	ErrDeltaProtocol = errors.New("delta feed returned neither a next page nor a delta token")

	// ErrCheckpointMissing means a delta pass was requested without a usable checkpoint.
	ErrCheckpointMissing = errors.New("no usable delta checkpoint on file")

	// ErrResyncRequired means the remote rejected the delta token and a full crawl is needed.
	ErrResyncRequired = errors.New("delta token rejected, resync required")

	// ErrPassCancelled is returned when a pass stops at a step boundary after cancellation.
	ErrPassCancelled = errors.New("sync pass cancelled")

	// ErrTenantInactive is returned when a pass is requested for a broken or uninstalling tenant.
	ErrTenantInactive = errors.New("tenant is not active")
)

// IsFatal reports whether err must stop syncing the tenant until it is re-registered.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrDeltaProtocol) ||
		errors.Is(err, ErrCheckpointMissing)
}

// IsTransient reports whether err may succeed if the same step is tried again.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
