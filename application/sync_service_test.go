package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/pass"
	"drivesync/test/helpers"
)

func newTestSyncService(f *helpers.Fixture, tune func(*pass.Parameters)) *SyncService {
	params := pass.DefaultParameters()
	if tune != nil {
		tune(params)
	}
	return NewSyncService(f.Cursors, f.Feed, f.Permissions, f.Sink, params)
}

// failingCursorStore fails SaveProgress while failOn matches the progress being written.
type failingCursorStore struct {
	contracts.CursorStore
	failOn func(checkpoint.Progress) bool
}

func (s *failingCursorStore) SaveProgress(ctx context.Context, scope drive.DriveScope, progress checkpoint.Progress) error {
	if s.failOn != nil && s.failOn(progress) {
		return errors.New("database is locked")
	}
	return s.CursorStore.SaveProgress(ctx, scope, progress)
}

// scriptThreePageCrawl sets up three root items with anonymous links on pages "", t1 and t2.
// The last page carries delta token D1.
func scriptThreePageCrawl(f *helpers.Fixture) {
	f.Feed.SetPage(drive.CrawlCursor(""), &drive.ItemPage{Items: []drive.Item{helpers.Item("A", "", "owner")}, NextToken: "t1"})
	f.Feed.SetPage(drive.CrawlCursor("t1"), &drive.ItemPage{Items: []drive.Item{helpers.Item("B", "", "owner")}, NextToken: "t2"})
	f.Feed.SetPage(drive.CrawlCursor("t2"), &drive.ItemPage{Items: []drive.Item{helpers.Item("C", "", "owner")}, DeltaToken: "D1"})
	f.Permissions.Set("A", helpers.Anonymous("pa"))
	f.Permissions.Set("B", helpers.Anonymous("pb"))
	f.Permissions.Set("C", helpers.Anonymous("pc"))
}

// scriptTwoPageCrawl sets up root R with a direct grant, child A on page one with an extra
// anonymous link, and child B on page two that only inherits from R.
func scriptTwoPageCrawl(f *helpers.Fixture) {
	f.Feed.SetPage(drive.CrawlCursor(""), &drive.ItemPage{
		Items: []drive.Item{
			helpers.Item("R", "", "owner"),
			helpers.Item("A", "R", "owner"),
		},
		NextToken: "c2",
	})
	f.Feed.SetPage(drive.CrawlCursor("c2"), &drive.ItemPage{
		Items:      []drive.Item{helpers.Item("B", "R", "owner")},
		DeltaToken: "d1",
	})
	f.Permissions.Set("R", helpers.Direct("p1", "alice@example.com"))
	f.Permissions.Set("A", helpers.Direct("p1", "alice@example.com"), helpers.Anonymous("p2"))
	f.Permissions.Set("B", helpers.Direct("p1", "alice@example.com"))
}

func TestSyncService_FullCrawl_PublishesEffectivePermissionsAndSweeps(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptTwoPageCrawl(f)
	f.Sink.Seed(drive.SecurityObject{ID: "stale", TenantID: "t1", DriveID: "d1", SyncedAt: time.Now().Add(-time.Hour)})
	svc := newTestSyncService(f, nil)

	// Act
	result, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.CrawlCompleted)
	assert.Equal(t, ModeFullCrawl, result.Mode)
	assert.Equal(t, 2, result.Stats.PagesFetched)
	assert.Equal(t, 3, result.Stats.ItemsSeen)

	root, ok := f.Sink.Object("R")
	require.True(t, ok)
	require.Len(t, root.Permissions, 1)
	assert.Equal(t, "alice@example.com", root.Permissions[0].Email)

	child, ok := f.Sink.Object("A")
	require.True(t, ok)
	require.Len(t, child.Permissions, 1, "inherited grant must not be repeated on the child")
	assert.Equal(t, drive.PermissionTypeAnyone, child.Permissions[0].Type)
	assert.Equal(t, []string{"p2"}, child.Permissions[0].PermissionIDs)

	_, ok = f.Sink.Object("B")
	assert.False(t, ok, "fully inherited item must not be indexed")
	_, ok = f.Sink.Object("stale")
	assert.False(t, ok, "objects not seen by the crawl are swept")
	assert.Equal(t, 1, f.Permissions.CallCount("R"), "parent permissions are cached for the pass")

	state := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseDeltaReady, state.Phase)
	assert.Equal(t, "d1", state.DeltaToken)
	assert.Empty(t, state.PageToken)
}

func TestSyncService_FullCrawl_SweepRunsAfterLastPage(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptTwoPageCrawl(f)
	svc := newTestSyncService(f, nil)

	// Act
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	ops := f.Sink.Ops()
	require.NotEmpty(t, ops)
	last := ops[len(ops)-1]
	assert.Equal(t, "sweep", last.Kind)
	for _, op := range ops[:len(ops)-1] {
		assert.NotEqual(t, "sweep", op.Kind)
	}
}

func TestSyncService_FullCrawl_ResumesFromSavedPage(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptTwoPageCrawl(f)
	f.Feed.SetError(drive.CrawlCursor("c2"), contracts.ErrTransient)
	svc := newTestSyncService(f, nil)

	// Act: first attempt stops on page two
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.ErrorIs(t, err, contracts.ErrTransient)
	interrupted := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseFullCrawl, interrupted.Phase)
	assert.Equal(t, "c2", interrupted.PageToken)
	require.NotNil(t, interrupted.CrawlStartedAt)
	assert.True(t, interrupted.NeedsResume())

	// Act: resume once the feed recovers
	scriptTwoPageCrawl(f)
	before := len(f.Feed.Calls())
	result, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.PagesFetched)
	calls := f.Feed.Calls()[before:]
	require.NotEmpty(t, calls)
	assert.Equal(t, drive.CrawlCursor("c2"), calls[0])

	ops := f.Sink.Ops()
	sweep := ops[len(ops)-1]
	require.Equal(t, "sweep", sweep.Kind)
	assert.True(t, sweep.Cutoff.Equal(*interrupted.CrawlStartedAt), "resumed crawl keeps its original cutoff")
	assert.Equal(t, checkpoint.PhaseDeltaReady, f.State(t, scope).Phase)
}

func TestSyncService_FullCrawl_HandsOverToDeltaFeed(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptThreePageCrawl(f)
	f.Feed.SetPage(drive.DeltaCursor("D1"), &drive.ItemPage{DeltaToken: "D2"})
	svc := newTestSyncService(f, nil)

	// Act
	crawl, err := svc.RunPass(context.Background(), scope, nil)
	require.NoError(t, err)
	afterCrawl := f.State(t, scope)
	before := len(f.Feed.Calls())
	delta, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, crawl.Stats.PagesFetched)
	assert.Equal(t, []drive.Cursor{drive.CrawlCursor(""), drive.CrawlCursor("t1"), drive.CrawlCursor("t2")}, f.Feed.Calls()[:before])
	assert.Equal(t, checkpoint.PhaseDeltaReady, afterCrawl.Phase)
	assert.Equal(t, "D1", afterCrawl.DeltaToken)

	assert.Equal(t, ModeDelta, delta.Mode)
	assert.Equal(t, []drive.Cursor{drive.DeltaCursor("D1")}, f.Feed.Calls()[before:])
	assert.Equal(t, "D2", f.State(t, scope).DeltaToken)
}

func TestSyncService_FullCrawl_MissingDeltaTokenIsFatal(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	f.Feed.SetPage(drive.CrawlCursor(""), &drive.ItemPage{Items: []drive.Item{helpers.Item("A", "", "owner")}})
	svc := newTestSyncService(f, nil)

	// Act
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.ErrorIs(t, err, contracts.ErrDeltaProtocol)
	assert.True(t, contracts.IsFatal(err))
	for _, op := range f.Sink.Ops() {
		assert.NotEqual(t, "sweep", op.Kind, "no sweep without a delta token to hand over to")
	}
	state := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseFullCrawl, state.Phase)
	assert.Empty(t, state.DeltaToken)
}

func TestSyncService_FullCrawl_FailedCheckpointWriteRefetchesPage(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptThreePageCrawl(f)
	store := &failingCursorStore{
		CursorStore: f.Cursors,
		failOn:      func(p checkpoint.Progress) bool { return p.PageToken == "t1" },
	}
	svc := NewSyncService(store, f.Feed, f.Permissions, f.Sink, nil)

	// Act: page A is published but its cursor write fails
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.Error(t, err)
	_, published := f.Sink.Object("A")
	assert.True(t, published)
	assert.Empty(t, f.State(t, scope).PageToken, "cursor never moved past page A")

	// Act: the store recovers and the pass runs again
	store.failOn = nil
	before := len(f.Feed.Calls())
	result, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.CrawlCompleted)
	assert.Equal(t, []drive.Cursor{drive.CrawlCursor(""), drive.CrawlCursor("t1"), drive.CrawlCursor("t2")}, f.Feed.Calls()[before:])
	for _, id := range []string{"A", "B", "C"} {
		_, ok := f.Sink.Object(id)
		assert.True(t, ok, "object %s indexed", id)
	}
	assert.Equal(t, "D1", f.State(t, scope).DeltaToken)
}

func TestSyncService_DeltaPass_AppliesChangesAndDeletes(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "d1"))
	f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{
		Items: []drive.Item{
			{ID: "C", ParentID: "R", OwnerUserID: "owner", Shared: false},
			helpers.Item("D", "R", "owner"),
		},
		DeletedIDs: []string{"X"},
		DeltaToken: "d2",
	})
	f.Permissions.Set("R", helpers.Direct("p1", "alice@example.com"))
	f.Permissions.Set("D", helpers.Direct("p1", "alice@example.com"), helpers.Direct("p3", "bob@example.com"))
	svc := newTestSyncService(f, nil)

	// Act
	result, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ModeDelta, result.Mode)
	assert.Equal(t, 0, f.Permissions.CallCount("C"), "non-shared items are not permission-resolved")
	assert.Equal(t, 0, f.Permissions.CallCount("X"), "deleted items are not permission-resolved")

	obj, ok := f.Sink.Object("D")
	require.True(t, ok)
	require.Len(t, obj.Permissions, 1)
	assert.Equal(t, "bob@example.com", obj.Permissions[0].Email)
	assert.Equal(t, "p3", obj.Permissions[0].DirectPermissionID)

	var deleted []string
	for _, op := range f.Sink.Ops() {
		assert.NotEqual(t, "sweep", op.Kind, "delta passes never sweep")
		if op.Kind == "delete" {
			deleted = append(deleted, op.IDs...)
		}
	}
	assert.Equal(t, []string{"X", "C"}, deleted)

	state := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseDeltaReady, state.Phase)
	assert.Equal(t, "d2", state.DeltaToken)
}

func TestSyncService_DeltaPass_ResumesContinuation(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "d1"))
	f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{
		Items:     []drive.Item{helpers.Item("A", "", "owner")},
		NextToken: "n1",
	})
	f.Feed.SetError(drive.DeltaCursor("n1"), contracts.ErrTransient)
	f.Permissions.Set("A", helpers.Anonymous("p9"))
	svc := newTestSyncService(f, nil)

	// Act
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.ErrorIs(t, err, contracts.ErrTransient)
	state := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseDeltaPass, state.Phase)
	assert.Equal(t, "n1", state.DeltaToken)
	assert.True(t, state.NeedsResume())

	// Act: retry picks up at the continuation
	f.Feed.SetPage(drive.DeltaCursor("n1"), &drive.ItemPage{DeltaToken: "d2"})
	_, err = svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	state = f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseDeltaReady, state.Phase)
	assert.Equal(t, "d2", state.DeltaToken)
}

func TestSyncService_Cancellation_NeverPersistsPartialPage(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptTwoPageCrawl(f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Feed.OnFetch = func(cursor drive.Cursor) {
		if cursor.Token == "c2" {
			cancel()
		}
	}
	svc := newTestSyncService(f, nil)

	// Act
	_, err := svc.RunPass(ctx, scope, nil)

	// Assert
	require.ErrorIs(t, err, contracts.ErrPassCancelled)
	state := f.State(t, scope)
	assert.Equal(t, checkpoint.PhaseFullCrawl, state.Phase)
	assert.Equal(t, "c2", state.PageToken, "checkpoint stays at the last committed page")

	for _, op := range f.Sink.Ops() {
		assert.NotEqual(t, "sweep", op.Kind)
		for _, obj := range op.Objects {
			assert.NotEqual(t, "B", obj.ID, "page fetched after cancellation must not be published")
		}
	}
}

func TestSyncService_MalformedPermissions_SkipItem(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "d1"))
	f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{
		Items: []drive.Item{
			helpers.Item("good", "", "owner"),
			helpers.Item("bad", "", "owner"),
		},
		Skipped:    1,
		DeltaToken: "d2",
	})
	f.Permissions.Set("good", helpers.Anonymous("p1"))
	f.Permissions.SetError("bad", contracts.ErrMalformedRecord)
	svc := newTestSyncService(f, nil)

	// Act
	result, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.RecordsSkipped)
	_, ok := f.Sink.Object("good")
	assert.True(t, ok)
	_, ok = f.Sink.Object("bad")
	assert.False(t, ok)
	assert.Equal(t, "d2", f.State(t, scope).DeltaToken)
}

func TestSyncService_OwnerlessPolicy(t *testing.T) {
	tests := []struct {
		name          string
		emitOwnerless bool
		wantIndexed   bool
	}{
		{name: "dropped by default", emitOwnerless: false, wantIndexed: false},
		{name: "emitted when enabled", emitOwnerless: true, wantIndexed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := helpers.Scope("d1")
			f.SeedState(t, helpers.DeltaReady(scope, "d1"))
			f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{
				Items:      []drive.Item{helpers.Item("orphan", "", "")},
				DeltaToken: "d2",
			})
			f.Permissions.Set("orphan", helpers.Anonymous("p1"))
			f.Sink.Seed(drive.SecurityObject{ID: "orphan", TenantID: "t1", DriveID: "d1", OwnerUserID: "former-owner"})
			svc := newTestSyncService(f, func(p *pass.Parameters) { p.EmitOwnerless = tt.emitOwnerless })

			// Act
			result, err := svc.RunPass(context.Background(), scope, nil)

			// Assert
			require.NoError(t, err)
			obj, ok := f.Sink.Object("orphan")
			assert.Equal(t, tt.wantIndexed, ok, "an object indexed earlier must not go stale")
			if tt.wantIndexed {
				assert.Empty(t, obj.OwnerUserID)
			}
			if !tt.wantIndexed {
				assert.Equal(t, 1, result.Stats.ItemsDropped)
			}
		})
	}
}

func TestSyncService_Publish_ChunksUpserts(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "d1"))
	items := make([]drive.Item, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, helpers.Item(id, "", "owner"))
		f.Permissions.Set(id, helpers.Anonymous("p-"+id))
	}
	f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{Items: items, DeltaToken: "d2"})
	svc := newTestSyncService(f, func(p *pass.Parameters) { p.SinkBatchSize = 2 })

	// Act
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.NoError(t, err)
	var sizes []int
	for _, op := range f.Sink.Ops() {
		if op.Kind == "update" {
			sizes = append(sizes, len(op.Objects))
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 5, f.Sink.Size())
}

func TestSyncService_SinkFailure_KeepsCheckpoint(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, helpers.DeltaReady(scope, "d1"))
	f.Feed.SetPage(drive.DeltaCursor("d1"), &drive.ItemPage{
		Items:      []drive.Item{helpers.Item("a", "", "owner")},
		DeltaToken: "d2",
	})
	f.Permissions.Set("a", helpers.Anonymous("p1"))
	f.Sink.Err = contracts.ErrTransient
	svc := newTestSyncService(f, nil)

	// Act
	_, err := svc.RunPass(context.Background(), scope, nil)

	// Assert
	require.ErrorIs(t, err, contracts.ErrTransient)
	assert.Equal(t, "d1", f.State(t, scope).DeltaToken, "token only advances after the page is published")
}

func TestSyncService_RunPass_Errors(t *testing.T) {
	tests := []struct {
		name    string
		seed    *checkpoint.DeltaState
		feedErr error
		wantErr error
	}{
		{
			name:    "missing checkpoint",
			wantErr: contracts.ErrCheckpointMissing,
		},
		{
			name: "delta phase without token",
			seed: &checkpoint.DeltaState{
				Scope: helpers.Scope("d1"),
				Phase: checkpoint.PhaseDeltaReady,
			},
			wantErr: contracts.ErrCheckpointMissing,
		},
		{
			name:    "token rejected",
			seed:    helpers.DeltaReady(helpers.Scope("d1"), "d1"),
			feedErr: contracts.ErrResyncRequired,
			wantErr: contracts.ErrResyncRequired,
		},
		{
			name:    "unauthorized",
			seed:    helpers.DeltaReady(helpers.Scope("d1"), "d1"),
			feedErr: contracts.ErrUnauthorized,
			wantErr: contracts.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := helpers.NewFixture()
			scope := helpers.Scope("d1")
			if tt.seed != nil {
				f.SeedState(t, tt.seed)
			}
			if tt.feedErr != nil {
				f.Feed.SetError(drive.DeltaCursor("d1"), tt.feedErr)
			}
			svc := newTestSyncService(f, nil)

			// Act
			_, err := svc.RunPass(context.Background(), scope, nil)

			// Assert
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.seed != nil {
				assert.Equal(t, tt.seed.Phase, f.State(t, scope).Phase)
			}
		})
	}
}

func TestSyncService_ReportsProgress(t *testing.T) {
	// Arrange
	f := helpers.NewFixture()
	scope := helpers.Scope("d1")
	f.SeedState(t, checkpoint.NewDeltaState(scope))
	scriptTwoPageCrawl(f)
	svc := newTestSyncService(f, nil)
	var stages []string

	// Act
	_, err := svc.RunPass(context.Background(), scope, func(stage, description string, percentage, itemsDone, itemsTotal int) {
		stages = append(stages, stage)
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"crawling", "crawling", "sweeping"}, stages)
}
