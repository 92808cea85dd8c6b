package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/domain/pass"
	"drivesync/logging"
)

// PassMode tells whether a pass is the initial listing or an incremental replay.
type PassMode string

const (
	ModeFullCrawl PassMode = "full_crawl"
	ModeDelta     PassMode = "delta"
)

// PassResult summarizes a finished pass.
type PassResult struct {
	Scope          drive.DriveScope
	Mode           PassMode
	Stats          jobs.JobStats
	Phase          checkpoint.Phase
	CrawlCompleted bool
}

// SyncService runs full crawls and delta passes for one drive at a time.
// It does not serialize passes; PassCoordinator guarantees one pass per scope.
type SyncService struct {
	cursors contracts.CursorStore
	items   contracts.ItemTreeFetcher
	perms   contracts.PermissionFetcher
	sink    contracts.SinkPublisher
	params  *pass.Parameters
	now     func() time.Time
	logger  *logging.Logger
}

// NewSyncService creates a sync service. Nil params use the defaults.
func NewSyncService(
	cursors contracts.CursorStore,
	items contracts.ItemTreeFetcher,
	perms contracts.PermissionFetcher,
	sink contracts.SinkPublisher,
	params *pass.Parameters,
) *SyncService {
	if params == nil {
		params = pass.DefaultParameters()
	}
	return &SyncService{
		cursors: cursors,
		items:   items,
		perms:   perms,
		sink:    sink,
		params:  params,
		now:     time.Now,
		logger:  logging.Default().WithComponent("sync_service"),
	}
}

// Parameters returns the tunables the service runs with.
func (s *SyncService) Parameters() *pass.Parameters {
	return s.params
}

// RunPass loads the checkpoint and runs whichever pass its phase calls for.
func (s *SyncService) RunPass(ctx context.Context, scope drive.DriveScope, progress ProgressCallback) (*PassResult, error) {
	state, err := s.cursors.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return nil, fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}

	switch state.Phase {
	case checkpoint.PhaseFullCrawl:
		return s.FullCrawl(ctx, state, progress)
	case checkpoint.PhaseDeltaReady, checkpoint.PhaseDeltaPass:
		return s.DeltaPass(ctx, state, progress)
	default:
		return nil, fmt.Errorf("%s: unknown phase %q: %w", scope, state.Phase, contracts.ErrCheckpointMissing)
	}
}

// FullCrawl pages through the whole drive, publishing each page before its cursor is saved.
// A crawl with a saved page token resumes from it and keeps the original sweep cutoff.
func (s *SyncService) FullCrawl(ctx context.Context, state *checkpoint.DeltaState, progress ProgressCallback) (*PassResult, error) {
	scope := state.Scope
	logger := s.logger.WithScope(scope)
	metrics := NewPassMetrics()
	passStart := metrics.StartTiming()
	parents := newParentCache(s.params.PassTimeout)

	result := &PassResult{Scope: scope, Mode: ModeFullCrawl, Phase: checkpoint.PhaseFullCrawl}

	token := state.PageToken
	crawlStartedAt := state.CrawlStartedAt
	if token == "" || crawlStartedAt == nil {
		started := s.now().UTC()
		crawlStartedAt = &started
		token = ""
		if err := s.saveProgress(ctx, scope, metrics, checkpoint.Progress{
			Phase:          checkpoint.PhaseFullCrawl,
			CrawlStartedAt: crawlStartedAt,
		}); err != nil {
			return result, err
		}
		logger.Sync("Full crawl started", "crawl_started_at", started)
	} else {
		logger.Sync("Full crawl resumed", "crawl_started_at", *crawlStartedAt)
	}

	for {
		page, err := s.fetchPage(ctx, scope, drive.CrawlCursor(token), metrics)
		if err != nil {
			return result, err
		}

		stats, err := s.processPage(ctx, scope, page, ModeFullCrawl, parents, metrics)
		result.Stats.Add(stats)
		if err != nil {
			return result, err
		}
		report(progress, "crawling", fmt.Sprintf("Crawled page %d", result.Stats.PagesFetched), result.Stats.ItemsSeen)

		if page.HasMore() {
			if err := s.saveProgress(ctx, scope, metrics, checkpoint.Progress{
				Phase:          checkpoint.PhaseFullCrawl,
				PageToken:      page.NextToken,
				CrawlStartedAt: crawlStartedAt,
			}); err != nil {
				return result, err
			}
			token = page.NextToken
			continue
		}

		if page.DeltaToken == "" {
			return result, fmt.Errorf("%s: last crawl page carried no delta token: %w", scope, contracts.ErrDeltaProtocol)
		}
		if err := stepBoundary(ctx); err != nil {
			return result, err
		}
		report(progress, "sweeping", "Removing objects not seen by this crawl", result.Stats.ItemsSeen)
		sweepStart := metrics.StartTiming()
		if err := s.sink.DeleteObjectsSyncedBefore(context.WithoutCancel(ctx), scope, *crawlStartedAt); err != nil {
			return result, fmt.Errorf("sweep %s: %w", scope, err)
		}
		metrics.RecordPublish(sweepStart)

		if err := s.saveProgress(ctx, scope, metrics, checkpoint.Progress{
			Phase:      checkpoint.PhaseDeltaReady,
			DeltaToken: page.DeltaToken,
		}); err != nil {
			return result, err
		}

		result.Phase = checkpoint.PhaseDeltaReady
		result.CrawlCompleted = true
		metrics.CalculateTotalDuration(passStart)
		metrics.LogPassMetrics(logger, "full_crawl", scope)
		logger.Sync("Full crawl completed", "pages", result.Stats.PagesFetched, "items", result.Stats.ItemsSeen)
		return result, nil
	}
}

// DeltaPass replays the feed from the stored token until it reports no further page.
func (s *SyncService) DeltaPass(ctx context.Context, state *checkpoint.DeltaState, progress ProgressCallback) (*PassResult, error) {
	scope := state.Scope
	logger := s.logger.WithScope(scope)
	result := &PassResult{Scope: scope, Mode: ModeDelta, Phase: state.Phase}

	if !state.CanRunDelta() {
		return result, fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}

	metrics := NewPassMetrics()
	passStart := metrics.StartTiming()
	parents := newParentCache(s.params.PassTimeout)
	token := state.DeltaToken

	for {
		page, err := s.fetchPage(ctx, scope, drive.DeltaCursor(token), metrics)
		if err != nil {
			return result, err
		}

		stats, err := s.processPage(ctx, scope, page, ModeDelta, parents, metrics)
		result.Stats.Add(stats)
		if err != nil {
			return result, err
		}
		report(progress, "delta", fmt.Sprintf("Applied delta page %d", result.Stats.PagesFetched), result.Stats.ItemsSeen)

		next := checkpoint.Progress{Phase: checkpoint.PhaseDeltaReady, DeltaToken: page.DeltaToken}
		if page.HasMore() {
			next = checkpoint.Progress{Phase: checkpoint.PhaseDeltaPass, DeltaToken: page.NextToken}
		}
		if err := s.saveProgress(ctx, scope, metrics, next); err != nil {
			return result, err
		}
		result.Phase = next.Phase

		if page.HasMore() {
			token = page.NextToken
			continue
		}

		metrics.CalculateTotalDuration(passStart)
		metrics.LogPassMetrics(logger, "delta_pass", scope)
		return result, nil
	}
}

func (s *SyncService) fetchPage(ctx context.Context, scope drive.DriveScope, cursor drive.Cursor, metrics *PassMetrics) (*drive.ItemPage, error) {
	if err := stepBoundary(ctx); err != nil {
		return nil, err
	}
	start := metrics.StartTiming()
	page, err := s.items.FetchPage(context.WithoutCancel(ctx), scope, cursor)
	metrics.RecordFetch(start)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page of %s: %w", cursor.Mode, scope, err)
	}
	return page, nil
}

// processPage resolves and publishes one page. It does not touch the checkpoint.
//
// Only items the feed flags as shared are permission-resolved. The rest inherit everything
// from their parent: a crawl leaves them out and lets the sweep remove stale objects, a delta
// pass deletes them from the index directly.
func (s *SyncService) processPage(ctx context.Context, scope drive.DriveScope, page *drive.ItemPage, mode PassMode, parents *parentCache, metrics *PassMetrics) (jobs.JobStats, error) {
	stats := jobs.JobStats{
		PagesFetched:   1,
		ItemsSeen:      len(page.Items),
		RecordsSkipped: page.Skipped,
	}

	deletes := make([]string, 0, len(page.DeletedIDs))
	deletes = append(deletes, page.DeletedIDs...)
	for _, id := range page.DeletedIDs {
		parents.forget(id)
	}

	shared := make([]drive.Item, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Shared {
			shared = append(shared, item)
			continue
		}
		parents.forget(item.ID)
		if mode == ModeDelta {
			deletes = append(deletes, item.ID)
		}
	}

	if err := stepBoundary(ctx); err != nil {
		return stats, err
	}

	permStart := metrics.StartTiming()
	batch, lookup, fetched, skipped, hits, err := s.collectPermissions(ctx, scope, shared, parents)
	metrics.RecordPermissions(permStart)
	stats.PermissionsFetched = fetched
	stats.RecordsSkipped += skipped
	if err != nil {
		return stats, err
	}

	resolution := drive.Resolve(batch, lookup)
	policy := drive.ObjectPolicy{EmitOwnerless: s.params.EmitOwnerless, DeleteDropped: mode == ModeDelta}
	plan := drive.PlanPublish(scope, resolution, deletes, s.now().UTC(), policy)
	stats.ItemsDropped = len(plan.Dropped)

	if err := stepBoundary(ctx); err != nil {
		return stats, err
	}

	pubStart := metrics.StartTiming()
	if err := s.publish(ctx, scope, plan); err != nil {
		return stats, err
	}
	metrics.RecordPublish(pubStart)

	stats.ItemsUpserted = len(plan.Upserts)
	stats.ItemsDeleted = len(plan.Deletes)
	metrics.RecordPage(stats, hits)
	return stats, nil
}

// collectPermissions fetches permissions for the shared items of a page and for any of
// their parents that are not on the page. Parent lists are cached for the rest of the pass.
func (s *SyncService) collectPermissions(ctx context.Context, scope drive.DriveScope, shared []drive.Item, parents *parentCache) (batch, lookup []drive.ItemPermissions, fetched, skipped, hits int, err error) {
	onPage := make(map[string]struct{}, len(shared))
	for _, item := range shared {
		onPage[item.ID] = struct{}{}
	}

	missing := make([]string, 0)
	seen := make(map[string]struct{})
	lookup = make([]drive.ItemPermissions, 0)
	for _, item := range shared {
		if !item.HasParent() {
			continue
		}
		if _, ok := onPage[item.ParentID]; ok {
			continue
		}
		if _, ok := seen[item.ParentID]; ok {
			continue
		}
		seen[item.ParentID] = struct{}{}
		if perms, ok := parents.get(item.ParentID); ok {
			hits++
			lookup = append(lookup, drive.ItemPermissions{Item: drive.Item{ID: item.ParentID}, Permissions: perms})
			continue
		}
		missing = append(missing, item.ParentID)
	}

	itemPerms := make([][]drive.RawPermission, len(shared))
	itemOK := make([]bool, len(shared))
	parentPerms := make([][]drive.RawPermission, len(missing))
	parentOK := make([]bool, len(missing))

	var (
		mu      sync.Mutex
		counted int
		bad     int
	)
	remote := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(remote)
	g.SetLimit(s.params.PermissionFanOut)

	fetch := func(itemID string, out *[]drive.RawPermission, ok *bool) func() error {
		return func() error {
			perms, err := s.perms.FetchAllPermissions(gctx, scope, itemID)
			mu.Lock()
			defer mu.Unlock()
			counted++
			if errors.Is(err, contracts.ErrMalformedRecord) {
				bad++
				s.logger.WithScope(scope).Warn("Skipping item with malformed permissions", "item_id", itemID, "error", err.Error())
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch permissions of %s: %w", itemID, err)
			}
			*out = perms
			*ok = true
			return nil
		}
	}

	for i := range shared {
		g.Go(fetch(shared[i].ID, &itemPerms[i], &itemOK[i]))
	}
	for i := range missing {
		g.Go(fetch(missing[i], &parentPerms[i], &parentOK[i]))
	}
	if err := g.Wait(); err != nil {
		return nil, nil, counted, bad, hits, err
	}

	batch = make([]drive.ItemPermissions, 0, len(shared))
	for i, item := range shared {
		if !itemOK[i] {
			continue
		}
		batch = append(batch, drive.ItemPermissions{Item: item, Permissions: itemPerms[i]})
		parents.put(item.ID, itemPerms[i])
	}
	for i, id := range missing {
		if !parentOK[i] {
			continue
		}
		lookup = append(lookup, drive.ItemPermissions{Item: drive.Item{ID: id}, Permissions: parentPerms[i]})
		parents.put(id, parentPerms[i])
	}

	return batch, lookup, counted, bad, hits, nil
}

// publish sends upserts in chunks of SinkBatchSize, then the deletes.
func (s *SyncService) publish(ctx context.Context, scope drive.DriveScope, plan drive.PublishPlan) error {
	remote := context.WithoutCancel(ctx)
	size := s.params.SinkBatchSize
	if size <= 0 {
		size = len(plan.Upserts)
	}

	for start := 0; start < len(plan.Upserts); start += size {
		end := start + size
		if end > len(plan.Upserts) {
			end = len(plan.Upserts)
		}
		if err := s.sink.UpdateObjects(remote, scope, plan.Upserts[start:end]); err != nil {
			return fmt.Errorf("publish updates for %s: %w", scope, err)
		}
	}

	if len(plan.Deletes) > 0 {
		if err := s.sink.DeleteObjects(remote, scope, plan.Deletes); err != nil {
			return fmt.Errorf("publish deletes for %s: %w", scope, err)
		}
	}

	if !plan.IsEmpty() {
		s.logger.WithScope(scope).Sink("Page published",
			"upserts", len(plan.Upserts),
			"deletes", len(plan.Deletes),
			"dropped", len(plan.Dropped))
	}
	return nil
}

// saveProgress persists the cursor unless the pass was cancelled.
func (s *SyncService) saveProgress(ctx context.Context, scope drive.DriveScope, metrics *PassMetrics, progress checkpoint.Progress) error {
	if err := stepBoundary(ctx); err != nil {
		return err
	}
	start := metrics.StartTiming()
	if err := s.cursors.SaveProgress(context.WithoutCancel(ctx), scope, progress); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", scope, err)
	}
	metrics.RecordCheckpoint(start)
	return nil
}

// stepBoundary returns ErrPassCancelled once the pass context is done.
func stepBoundary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrPassCancelled, err)
	}
	return nil
}

func report(progress ProgressCallback, stage, description string, itemsDone int) {
	if progress != nil {
		progress(stage, description, 0, itemsDone, 0)
	}
}

// parentCache holds permission lists fetched during one pass, keyed by item id.
type parentCache struct {
	items *cache.Cache
}

func newParentCache(ttl time.Duration) *parentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &parentCache{items: cache.New(ttl, ttl)}
}

func (c *parentCache) get(itemID string) ([]drive.RawPermission, bool) {
	v, ok := c.items.Get(itemID)
	if !ok {
		return nil, false
	}
	perms, ok := v.([]drive.RawPermission)
	return perms, ok
}

func (c *parentCache) put(itemID string, perms []drive.RawPermission) {
	c.items.Set(itemID, perms, cache.DefaultExpiration)
}

func (c *parentCache) forget(itemID string) {
	c.items.Delete(itemID)
}
