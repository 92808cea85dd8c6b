package pass

import (
	"fmt"
	"time"
)

// Parameters are the tunables of a sync pass.
type Parameters struct {
	// Feed paging
	PageSize           int // $top hint for item pages
	PermissionPageSize int // $top hint for permission pages

	// Concurrency and publishing
	PermissionFanOut int // concurrent permission fetches within one page
	SinkBatchSize    int // objects per sink update call

	// Policy
	EmitOwnerless bool // emit items without an owner instead of dropping them

	// Limits
	PassTimeout time.Duration // upper bound for one pass
}

// DefaultParameters returns the defaults used when nothing is configured.
func DefaultParameters() *Parameters {
	return &Parameters{
		PageSize:           200,
		PermissionPageSize: 100,
		PermissionFanOut:   8,
		SinkBatchSize:      100,
		EmitOwnerless:      false,
		PassTimeout:        2 * time.Hour,
	}
}

// APIConstraints are the technical limits of the remote API and the sink.
type APIConstraints struct {
	MinPageSize    int
	MaxPageSize    int // Graph delta and permissions accept at most 999
	MaxFanOut      int
	MaxSinkBatch   int
	MinPassTimeout time.Duration
	MaxPassTimeout time.Duration
}

// DefaultAPIConstraints returns the limits enforced on Parameters.
func DefaultAPIConstraints() *APIConstraints {
	return &APIConstraints{
		MinPageSize:    1,
		MaxPageSize:    999,
		MaxFanOut:      32,
		MaxSinkBatch:   1000,
		MinPassTimeout: time.Minute,
		MaxPassTimeout: 24 * time.Hour,
	}
}

// Validate checks the parameters against the constraints.
func (p *Parameters) Validate(constraints *APIConstraints) error {
	if p == nil {
		return fmt.Errorf("sync parameters cannot be nil")
	}
	if constraints == nil {
		constraints = DefaultAPIConstraints()
	}

	if p.PageSize < constraints.MinPageSize || p.PageSize > constraints.MaxPageSize {
		return fmt.Errorf("page_size must be between %d and %d, got: %d", constraints.MinPageSize, constraints.MaxPageSize, p.PageSize)
	}
	if p.PermissionPageSize < constraints.MinPageSize || p.PermissionPageSize > constraints.MaxPageSize {
		return fmt.Errorf("permission_page_size must be between %d and %d, got: %d", constraints.MinPageSize, constraints.MaxPageSize, p.PermissionPageSize)
	}
	if p.PermissionFanOut < 1 || p.PermissionFanOut > constraints.MaxFanOut {
		return fmt.Errorf("permission_fan_out must be between 1 and %d, got: %d", constraints.MaxFanOut, p.PermissionFanOut)
	}
	if p.SinkBatchSize < 1 || p.SinkBatchSize > constraints.MaxSinkBatch {
		return fmt.Errorf("sink_batch_size must be between 1 and %d, got: %d", constraints.MaxSinkBatch, p.SinkBatchSize)
	}
	if p.PassTimeout < constraints.MinPassTimeout || p.PassTimeout > constraints.MaxPassTimeout {
		return fmt.Errorf("pass_timeout must be between %s and %s, got: %s", constraints.MinPassTimeout, constraints.MaxPassTimeout, p.PassTimeout)
	}

	return nil
}

// ValidateAndSetDefaults fills zero values from DefaultParameters and validates the result.
func (p *Parameters) ValidateAndSetDefaults(constraints *APIConstraints) error {
	if p == nil {
		return fmt.Errorf("sync parameters cannot be nil")
	}

	defaults := DefaultParameters()
	if p.PageSize == 0 {
		p.PageSize = defaults.PageSize
	}
	if p.PermissionPageSize == 0 {
		p.PermissionPageSize = defaults.PermissionPageSize
	}
	if p.PermissionFanOut == 0 {
		p.PermissionFanOut = defaults.PermissionFanOut
	}
	if p.SinkBatchSize == 0 {
		p.SinkBatchSize = defaults.SinkBatchSize
	}
	if p.PassTimeout == 0 {
		p.PassTimeout = defaults.PassTimeout
	}

	return p.Validate(constraints)
}
