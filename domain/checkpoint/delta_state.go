package checkpoint

import (
	"fmt"
	"time"

	"drivesync/domain/drive"
	"drivesync/domain/subscription"
)

// Phase is the orchestration state of a drive.
type Phase string

const (
	// PhaseFullCrawl means the initial listing is in progress or has not started.
	PhaseFullCrawl Phase = "full_crawl"
	// PhaseDeltaReady means the drive is idle with a valid delta token.
	PhaseDeltaReady Phase = "delta_ready"
	// PhaseDeltaPass means a delta pass stopped between pages; DeltaToken is the continuation.
	PhaseDeltaPass Phase = "delta_pass"
)

// ParsePhase converts a stored value back to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseFullCrawl, PhaseDeltaReady, PhaseDeltaPass:
		return Phase(s), nil
	default:
		return "", fmt.Errorf("unknown sync phase: %q", s)
	}
}

// DeltaState is the only durable state the engine owns for a drive.
type DeltaState struct {
	Scope drive.DriveScope
	Phase Phase

	// PageToken is the continuation of an unfinished full crawl.
	PageToken string
	// DeltaToken is the feed position for the next delta pass.
	DeltaToken string
	// CrawlStartedAt is the sweep cutoff for the current full crawl.
	CrawlStartedAt *time.Time

	SubscriptionID        string
	SubscriptionState     subscription.State
	SubscriptionExpiresAt *time.Time
	ClientState           string

	UpdatedAt time.Time
}

// NewDeltaState returns the initial state for a newly registered drive.
func NewDeltaState(scope drive.DriveScope) *DeltaState {
	return &DeltaState{
		Scope:             scope,
		Phase:             PhaseFullCrawl,
		SubscriptionState: subscription.StateNone,
	}
}

// CanRunDelta reports whether a delta pass can start from this state.
func (s *DeltaState) CanRunDelta() bool {
	if s == nil || s.DeltaToken == "" {
		return false
	}
	return s.Phase == PhaseDeltaReady || s.Phase == PhaseDeltaPass
}

// NeedsResume reports whether a pass stopped part-way and should be resumed.
func (s *DeltaState) NeedsResume() bool {
	if s == nil {
		return false
	}
	return s.Phase == PhaseFullCrawl || s.Phase == PhaseDeltaPass
}

// Progress is the cursor part of DeltaState, written by sync passes.
type Progress struct {
	Phase          Phase
	PageToken      string
	DeltaToken     string
	CrawlStartedAt *time.Time
}

// Progress extracts the cursor columns.
func (s *DeltaState) Progress() Progress {
	return Progress{
		Phase:          s.Phase,
		PageToken:      s.PageToken,
		DeltaToken:     s.DeltaToken,
		CrawlStartedAt: s.CrawlStartedAt,
	}
}

// Apply copies a progress update into the state.
func (s *DeltaState) Apply(p Progress) {
	s.Phase = p.Phase
	s.PageToken = p.PageToken
	s.DeltaToken = p.DeltaToken
	s.CrawlStartedAt = p.CrawlStartedAt
}

// RestartCrawl returns the progress that sends the drive back to a fresh full crawl.
func RestartCrawl() Progress {
	return Progress{Phase: PhaseFullCrawl}
}

// SubscriptionInfo is the subscription part of DeltaState, written by the lifecycle manager.
type SubscriptionInfo struct {
	ID          string
	State       subscription.State
	ExpiresAt   *time.Time
	ClientState string
}

// Subscription extracts the subscription columns.
func (s *DeltaState) Subscription() SubscriptionInfo {
	return SubscriptionInfo{
		ID:          s.SubscriptionID,
		State:       s.SubscriptionState,
		ExpiresAt:   s.SubscriptionExpiresAt,
		ClientState: s.ClientState,
	}
}

// ApplySubscription copies a subscription update into the state.
func (s *DeltaState) ApplySubscription(info SubscriptionInfo) {
	s.SubscriptionID = info.ID
	s.SubscriptionState = info.State
	s.SubscriptionExpiresAt = info.ExpiresAt
	s.ClientState = info.ClientState
}
