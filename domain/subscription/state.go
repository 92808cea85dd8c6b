package subscription

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a push subscription for one drive.
type State string

const (
	StateNone     State = "none"
	StateActive   State = "active"
	StateRenewing State = "renewing"
	StateExpired  State = "expired"
)

// ParseState converts a stored value back to a State. An empty value is StateNone.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "":
		return StateNone, nil
	case StateNone, StateActive, StateRenewing, StateExpired:
		return State(s), nil
	default:
		return "", fmt.Errorf("unknown subscription state: %q", s)
	}
}

var allowedTransitions = map[State][]State{
	StateNone:     {StateActive},
	StateActive:   {StateRenewing, StateExpired, StateNone},
	StateRenewing: {StateActive, StateExpired, StateNone},
	StateExpired:  {StateNone},
}

// Transition validates a state change. Moving to StateNone from a live state is allowed for
// teardown.
func Transition(from, to State) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid subscription transition: %s -> %s", from, to)
}

// IsLive reports whether notifications are expected to arrive in this state.
func (s State) IsLive() bool {
	return s == StateActive || s == StateRenewing
}

// Policy holds the timing rules of the lifecycle.
type Policy struct {
	// TTL is the requested lifetime of a new or renewed subscription.
	TTL time.Duration
	// RenewalMargin is how long before expiry renewal starts.
	RenewalMargin time.Duration
}

// MinRenewalMargin keeps renewal well ahead of expiry.
const MinRenewalMargin = time.Minute

// MaxTTL is the longest lifetime Graph accepts for drive item subscriptions.
const MaxTTL = 42300 * time.Minute

// DefaultPolicy returns a three day lifetime renewed thirty minutes before expiry.
func DefaultPolicy() Policy {
	return Policy{
		TTL:           72 * time.Hour,
		RenewalMargin: 30 * time.Minute,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.TTL <= 0 || p.TTL > MaxTTL {
		return fmt.Errorf("subscription ttl must be within (0, %s], got: %s", MaxTTL, p.TTL)
	}
	if p.RenewalMargin < MinRenewalMargin {
		return fmt.Errorf("renewal margin must be at least %s, got: %s", MinRenewalMargin, p.RenewalMargin)
	}
	if p.RenewalMargin >= p.TTL {
		return fmt.Errorf("renewal margin %s must be shorter than ttl %s", p.RenewalMargin, p.TTL)
	}
	return nil
}

// ExpiryFrom returns the expiration to request for a subscription created or renewed at now.
func (p Policy) ExpiryFrom(now time.Time) time.Time {
	return now.Add(p.TTL).UTC()
}

// RenewalDue reports whether a live subscription should be renewed at now.
func (p Policy) RenewalDue(state State, expiresAt *time.Time, now time.Time) bool {
	if !state.IsLive() || expiresAt == nil {
		return false
	}
	return !now.Before(expiresAt.Add(-p.RenewalMargin))
}

// IsExpired reports whether a subscription is past its expiry and no longer delivers
// notifications.
func (p Policy) IsExpired(state State, expiresAt *time.Time, now time.Time) bool {
	if state == StateExpired {
		return true
	}
	if !state.IsLive() || expiresAt == nil {
		return false
	}
	return !now.Before(*expiresAt)
}
