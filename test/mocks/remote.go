package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
)

// FakeItemFeed serves scripted item pages keyed by cursor.
type FakeItemFeed struct {
	mu     sync.Mutex
	pages  map[drive.Cursor]*drive.ItemPage
	errors map[drive.Cursor]error
	calls  []drive.Cursor
	// OnFetch runs before a page is returned. Tests use it to cancel a pass mid-way.
	OnFetch func(cursor drive.Cursor)
}

// NewFakeItemFeed creates an empty feed.
func NewFakeItemFeed() *FakeItemFeed {
	return &FakeItemFeed{
		pages:  make(map[drive.Cursor]*drive.ItemPage),
		errors: make(map[drive.Cursor]error),
	}
}

// SetPage scripts the page returned for a cursor.
func (f *FakeItemFeed) SetPage(cursor drive.Cursor, page *drive.ItemPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cursor] = page
	delete(f.errors, cursor)
}

// SetError scripts an error for a cursor.
func (f *FakeItemFeed) SetError(cursor drive.Cursor, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[cursor] = err
}

// Calls returns the cursors fetched so far.
func (f *FakeItemFeed) Calls() []drive.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]drive.Cursor(nil), f.calls...)
}

func (f *FakeItemFeed) FetchPage(_ context.Context, _ drive.DriveScope, cursor drive.Cursor) (*drive.ItemPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	page, ok := f.pages[cursor]
	err := f.errors[cursor]
	hook := f.OnFetch
	f.mu.Unlock()

	if hook != nil {
		hook(cursor)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no page scripted for %s cursor %q", cursor.Mode, cursor.Token)
	}
	return page, nil
}

// FakePermissionFetcher returns scripted permission lists. Unknown items have none.
type FakePermissionFetcher struct {
	mu     sync.Mutex
	perms  map[string][]drive.RawPermission
	errors map[string]error
	calls  map[string]int
}

// NewFakePermissionFetcher creates an empty fetcher.
func NewFakePermissionFetcher() *FakePermissionFetcher {
	return &FakePermissionFetcher{
		perms:  make(map[string][]drive.RawPermission),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Set scripts the permissions of an item.
func (f *FakePermissionFetcher) Set(itemID string, perms ...drive.RawPermission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[itemID] = perms
}

// SetError scripts an error for an item.
func (f *FakePermissionFetcher) SetError(itemID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[itemID] = err
}

// CallCount returns how often an item was fetched.
func (f *FakePermissionFetcher) CallCount(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[itemID]
}

func (f *FakePermissionFetcher) FetchAllPermissions(_ context.Context, _ drive.DriveScope, itemID string) ([]drive.RawPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[itemID]++
	if err := f.errors[itemID]; err != nil {
		return nil, err
	}
	return append([]drive.RawPermission(nil), f.perms[itemID]...), nil
}

// FakeDriveLister returns scripted drives per site.
type FakeDriveLister struct {
	Drives map[string][]contracts.DriveInfo
	Err    error
}

func (f *FakeDriveLister) ListDrives(_ context.Context, _ string, siteID string) ([]contracts.DriveInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Drives[siteID], nil
}

// SinkOp is one recorded sink call.
type SinkOp struct {
	Kind    string // "update", "delete" or "sweep"
	Scope   drive.DriveScope
	Objects []drive.SecurityObject
	IDs     []string
	Cutoff  time.Time
}

// RecordingSink records sink calls and keeps a model of the downstream index.
type RecordingSink struct {
	mu    sync.Mutex
	ops   []SinkOp
	index map[string]drive.SecurityObject
	// Err is returned by every call when set.
	Err error
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{index: make(map[string]drive.SecurityObject)}
}

func (s *RecordingSink) UpdateObjects(_ context.Context, scope drive.DriveScope, objects []drive.SecurityObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ops = append(s.ops, SinkOp{Kind: "update", Scope: scope, Objects: append([]drive.SecurityObject(nil), objects...)})
	for _, obj := range objects {
		s.index[obj.ID] = obj
	}
	return nil
}

func (s *RecordingSink) DeleteObjects(_ context.Context, scope drive.DriveScope, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ops = append(s.ops, SinkOp{Kind: "delete", Scope: scope, IDs: append([]string(nil), ids...)})
	for _, id := range ids {
		delete(s.index, id)
	}
	return nil
}

func (s *RecordingSink) DeleteObjectsSyncedBefore(_ context.Context, scope drive.DriveScope, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.ops = append(s.ops, SinkOp{Kind: "sweep", Scope: scope, Cutoff: cutoff})
	for id, obj := range s.index {
		if obj.TenantID == scope.TenantID && obj.DriveID == scope.DriveID && obj.SyncedAt.Before(cutoff) {
			delete(s.index, id)
		}
	}
	return nil
}

// Ops returns the recorded calls in order.
func (s *RecordingSink) Ops() []SinkOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkOp(nil), s.ops...)
}

// Object returns an indexed object.
func (s *RecordingSink) Object(id string) (drive.SecurityObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.index[id]
	return obj, ok
}

// Seed puts an object in the index without recording a call.
func (s *RecordingSink) Seed(obj drive.SecurityObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[obj.ID] = obj
}

// Size returns the number of indexed objects.
func (s *RecordingSink) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// FakeSubscriptionClient simulates the remote subscription API.
type FakeSubscriptionClient struct {
	mu   sync.Mutex
	next int
	live map[string]time.Time

	// CreateErrs are returned by successive Create calls; a nil entry succeeds.
	CreateErrs []error
	RenewErr   error
	DeleteErr  error
	// MaxTTL caps the expiry the remote grants. Zero grants what was asked.
	MaxTTL time.Duration
	Now    func() time.Time

	Created []contracts.CreateSubscriptionRequest
	Renewed []string
	Deleted []string
}

// NewFakeSubscriptionClient creates a client with no subscriptions.
func NewFakeSubscriptionClient() *FakeSubscriptionClient {
	return &FakeSubscriptionClient{live: make(map[string]time.Time), Now: time.Now}
}

func (c *FakeSubscriptionClient) grant(expiresAt time.Time) time.Time {
	if c.MaxTTL > 0 {
		if limit := c.Now().Add(c.MaxTTL); expiresAt.After(limit) {
			return limit
		}
	}
	return expiresAt
}

func (c *FakeSubscriptionClient) Create(_ context.Context, req contracts.CreateSubscriptionRequest) (*contracts.RemoteSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Created = append(c.Created, req)
	if len(c.CreateErrs) > 0 {
		err := c.CreateErrs[0]
		c.CreateErrs = c.CreateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c.next++
	id := fmt.Sprintf("sub-%d", c.next)
	expires := c.grant(req.ExpiresAt)
	c.live[id] = expires
	return &contracts.RemoteSubscription{ID: id, ExpiresAt: expires, ClientState: req.ClientState}, nil
}

func (c *FakeSubscriptionClient) Renew(_ context.Context, _ string, subscriptionID string, expiresAt time.Time) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Renewed = append(c.Renewed, subscriptionID)
	if c.RenewErr != nil {
		return time.Time{}, c.RenewErr
	}
	if _, ok := c.live[subscriptionID]; !ok {
		return time.Time{}, fmt.Errorf("subscription %s: %w", subscriptionID, contracts.ErrNotFound)
	}
	granted := c.grant(expiresAt)
	c.live[subscriptionID] = granted
	return granted, nil
}

func (c *FakeSubscriptionClient) Delete(_ context.Context, _ string, subscriptionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, subscriptionID)
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	delete(c.live, subscriptionID)
	return nil
}

// Drop removes a subscription remotely, as if it lapsed.
func (c *FakeSubscriptionClient) Drop(subscriptionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, subscriptionID)
}

// Live reports whether a subscription exists remotely.
func (c *FakeSubscriptionClient) Live(subscriptionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live[subscriptionID]
	return ok
}
