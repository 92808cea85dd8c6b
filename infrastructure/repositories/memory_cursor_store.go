package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
	"drivesync/domain/subscription"
)

// MemoryCursorStore keeps checkpoints in process memory. States are copied on every read and
// write so callers never share a pointer with the store.
type MemoryCursorStore struct {
	mu     sync.Mutex
	states map[string]*checkpoint.DeltaState
	now    func() time.Time
}

// NewMemoryCursorStore creates an empty store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{
		states: make(map[string]*checkpoint.DeltaState),
		now:    time.Now,
	}
}

func cloneState(s *checkpoint.DeltaState) *checkpoint.DeltaState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.CrawlStartedAt != nil {
		t := *s.CrawlStartedAt
		clone.CrawlStartedAt = &t
	}
	if s.SubscriptionExpiresAt != nil {
		t := *s.SubscriptionExpiresAt
		clone.SubscriptionExpiresAt = &t
	}
	return &clone
}

func (m *MemoryCursorStore) Create(_ context.Context, state *checkpoint.DeltaState) error {
	if err := state.Scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneState(state)
	if stored.SubscriptionState == "" {
		stored.SubscriptionState = subscription.StateNone
	}
	stored.UpdatedAt = m.now().UTC()
	m.states[state.Scope.Key()] = stored
	return nil
}

func (m *MemoryCursorStore) Get(_ context.Context, scope drive.DriveScope) (*checkpoint.DeltaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.states[scope.Key()]), nil
}

func (m *MemoryCursorStore) SaveProgress(_ context.Context, scope drive.DriveScope, progress checkpoint.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[scope.Key()]
	if !ok {
		return ErrCheckpointNotFound{Scope: scope}
	}
	updated := cloneState(state)
	updated.Apply(progress)
	if progress.CrawlStartedAt != nil {
		t := *progress.CrawlStartedAt
		updated.CrawlStartedAt = &t
	}
	updated.UpdatedAt = m.now().UTC()
	m.states[scope.Key()] = updated
	return nil
}

func (m *MemoryCursorStore) SaveSubscription(_ context.Context, scope drive.DriveScope, info checkpoint.SubscriptionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[scope.Key()]
	if !ok {
		return ErrCheckpointNotFound{Scope: scope}
	}
	if info.State == "" {
		info.State = subscription.StateNone
	}
	updated := cloneState(state)
	updated.ApplySubscription(info)
	if info.ExpiresAt != nil {
		t := *info.ExpiresAt
		updated.SubscriptionExpiresAt = &t
	}
	updated.UpdatedAt = m.now().UTC()
	m.states[scope.Key()] = updated
	return nil
}

func (m *MemoryCursorStore) ClearSubscriptions(_ context.Context, scopes []drive.DriveScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, scope := range scopes {
		state, ok := m.states[scope.Key()]
		if !ok {
			continue
		}
		updated := cloneState(state)
		updated.ApplySubscription(checkpoint.SubscriptionInfo{State: subscription.StateNone})
		updated.UpdatedAt = m.now().UTC()
		m.states[scope.Key()] = updated
	}
	return nil
}

func (m *MemoryCursorStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*checkpoint.DeltaState, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.states {
		if state.SubscriptionID == subscriptionID {
			return cloneState(state), nil
		}
	}
	return nil, nil
}

// selectStates returns sorted copies of the states matching keep. Callers hold the lock.
func (m *MemoryCursorStore) selectStates(keep func(*checkpoint.DeltaState) bool) []*checkpoint.DeltaState {
	out := make([]*checkpoint.DeltaState, 0)
	for _, state := range m.states {
		if keep(state) {
			out = append(out, cloneState(state))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Scope.Key() < out[j].Scope.Key()
	})
	return out
}

func (m *MemoryCursorStore) ListByTenant(_ context.Context, tenantID string) ([]*checkpoint.DeltaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectStates(func(s *checkpoint.DeltaState) bool {
		return s.Scope.TenantID == tenantID
	}), nil
}

func (m *MemoryCursorStore) ListAll(_ context.Context) ([]*checkpoint.DeltaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectStates(func(*checkpoint.DeltaState) bool { return true }), nil
}

func (m *MemoryCursorStore) ListWithSubscriptions(_ context.Context, tenantID string, limit int) ([]*checkpoint.DeltaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := m.selectStates(func(s *checkpoint.DeltaState) bool {
		return s.Scope.TenantID == tenantID && s.SubscriptionID != ""
	})
	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}

func (m *MemoryCursorStore) ListExpiringBefore(_ context.Context, cutoff time.Time) ([]*checkpoint.DeltaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := m.selectStates(func(s *checkpoint.DeltaState) bool {
		return s.SubscriptionState.IsLive() &&
			s.SubscriptionExpiresAt != nil &&
			s.SubscriptionExpiresAt.Before(cutoff)
	})
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].SubscriptionExpiresAt.Before(*states[j].SubscriptionExpiresAt)
	})
	return states, nil
}

func (m *MemoryCursorStore) Delete(_ context.Context, scope drive.DriveScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, scope.Key())
	return nil
}

func (m *MemoryCursorStore) DeleteByTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, state := range m.states {
		if state.Scope.TenantID == tenantID {
			delete(m.states, key)
		}
	}
	return nil
}

func (m *MemoryCursorStore) Close() error {
	return nil
}
