package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/events"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// ErrCoordinatorClosed is returned when a pass is requested after Shutdown.
var ErrCoordinatorClosed = errors.New("pass coordinator is shut down")

// runningJob tracks one executing job and at most one coalesced follow-up trigger.
type runningJob struct {
	job     *jobs.Job
	created *jobs.Job // copy taken at launch, safe to hand out
	cancel  context.CancelFunc
	pending *jobs.Trigger
	// restartCrawl resets the checkpoint once the job has returned.
	restartCrawl bool
}

// PassCoordinator runs jobs with at most one job per scope key. A pass trigger that arrives
// while the scope is busy is folded into a single follow-up pass.
type PassCoordinator struct {
	jobRepo     contracts.JobRepository
	tenants     contracts.TenantRepository
	cursors     contracts.CursorStore
	registry    *JobExecutorRegistry
	eventBus    events.JobEventPublisher
	passTimeout time.Duration
	logger      *logging.Logger

	// Context cancellation for running jobs
	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
	closed  bool
}

// NewPassCoordinator creates a coordinator. eventBus may be nil.
func NewPassCoordinator(
	jobRepo contracts.JobRepository,
	tenants contracts.TenantRepository,
	cursors contracts.CursorStore,
	registry *JobExecutorRegistry,
	eventBus events.JobEventPublisher,
	passTimeout time.Duration,
) *PassCoordinator {
	if passTimeout <= 0 {
		passTimeout = 2 * time.Hour
	}
	return &PassCoordinator{
		jobRepo:     jobRepo,
		tenants:     tenants,
		cursors:     cursors,
		registry:    registry,
		eventBus:    eventBus,
		passTimeout: passTimeout,
		logger:      logging.Default().WithComponent("pass_coordinator"),
		running:     make(map[string]*runningJob),
	}
}

// TriggerPass starts the pass the drive's checkpoint calls for. When a pass is already
// running for the scope, the trigger is queued behind it and the running job is returned.
func (c *PassCoordinator) TriggerPass(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkTenant(ctx, scope.TenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	if r, ok := c.running[scope.Key()]; ok {
		t := trigger
		r.pending = &t
		c.logger.WithScope(scope).Debug("Pass already running, trigger coalesced",
			"job_id", r.job.ID, "trigger", trigger)
		return snapshot(r.created), nil
	}
	return c.startPassLocked(ctx, scope, trigger)
}

// RunTenantJob starts a tenant-wide job such as a renewal sweep or a teardown. Tenant
// status is not checked; callers decide which tenants qualify.
func (c *PassCoordinator) RunTenantJob(ctx context.Context, tenantID string, jobType jobs.JobType, trigger jobs.Trigger) (*jobs.Job, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	if r, ok := c.running[tenantID]; ok {
		return snapshot(r.created), nil
	}
	return c.launchLocked(ctx, jobType, drive.DriveScope{TenantID: tenantID}, trigger)
}

func (c *PassCoordinator) startPassLocked(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	state, err := c.cursors.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", scope, err)
	}
	if state == nil {
		return nil, fmt.Errorf("%s: %w", scope, contracts.ErrCheckpointMissing)
	}

	jobType := jobs.JobTypeDeltaPass
	if state.Phase == checkpoint.PhaseFullCrawl {
		jobType = jobs.JobTypeFullCrawl
	}
	return c.launchLocked(ctx, jobType, scope, trigger)
}

// launchLocked persists a new job and runs it in the background. c.mu must be held.
func (c *PassCoordinator) launchLocked(ctx context.Context, jobType jobs.JobType, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	executor, err := c.registry.GetExecutor(jobType)
	if err != nil {
		return nil, fmt.Errorf("cannot start job: %w", err)
	}

	jobFactory := &jobs.JobFactory{}
	job := jobFactory.CreateJob(jobType, scope, trigger)
	if err := c.jobRepo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.passTimeout)
	r := &runningJob{job: job, created: snapshot(job), cancel: cancel}
	c.running[job.ScopeKey()] = r
	c.wg.Add(1)
	go c.execute(runCtx, r, executor)

	c.logger.Info("Job started", "job_id", job.ID, "type", jobType, "scope", job.ScopeKey(), "trigger", trigger)
	return snapshot(r.created), nil
}

// execute runs one job to completion and starts the queued follow-up, if any.
func (c *PassCoordinator) execute(ctx context.Context, r *runningJob, executor JobExecutor) {
	defer c.wg.Done()
	defer r.cancel()

	job := r.job
	logger := &logging.Logger{Logger: c.logger.With("job_id", job.ID, "job_type", job.Type, "scope", job.ScopeKey())}

	jobLifecycle := &jobs.JobLifecycle{}
	if err := jobLifecycle.StartJob(job); err != nil {
		logger.Error("Failed to start job", "error", err)
		c.failJob(job, err.Error(), false)
		c.saveJob(job)
		c.finish(r)
		return
	}
	c.saveJob(job)

	err := executor.Execute(ctx, job, c.createProgressCallback(job))
	c.handleOutcome(ctx, r, err, logger)

	c.saveJob(job)
	c.finish(r)
}

func (c *PassCoordinator) handleOutcome(ctx context.Context, r *runningJob, err error, logger *logging.Logger) {
	job := r.job
	jobLifecycle := &jobs.JobLifecycle{}

	switch {
	case err == nil:
		if cerr := jobLifecycle.CompleteJob(job, job.Result); cerr != nil {
			logger.Error("Failed to complete job", "error", cerr)
		}
		logger.Info("Job completed", "duration", job.Duration().String())
		c.publishCompleted(job)

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Warn("Job timed out, checkpoint kept for resume", "error", err.Error())
		c.failJob(job, fmt.Sprintf("timed out after %s: %v", c.passTimeout, err), false)

	case errors.Is(err, contracts.ErrPassCancelled) || errors.Is(err, context.Canceled):
		_ = jobLifecycle.CancelJob(job)
		logger.Info("Job cancelled")
		if c.eventBus != nil {
			c.eventBus.PublishPassCancelled(events.PassCancelledEvent{Job: job, Timestamp: time.Now()})
		}

	case errors.Is(err, contracts.ErrResyncRequired):
		scope := job.Scope()
		logger.Warn("Delta token rejected, restarting full crawl", "error", err.Error())
		if serr := c.cursors.SaveProgress(context.Background(), scope, checkpoint.RestartCrawl()); serr != nil {
			logger.Error("Failed to reset checkpoint", "error", serr)
		} else {
			c.queue(r, jobs.TriggerResync)
		}
		c.failJob(job, err.Error(), false)

	case contracts.IsFatal(err):
		tenantID := job.Scope().TenantID
		logger.Error("Fatal sync error, marking tenant broken", "tenant_id", tenantID, "error", err.Error())
		c.failJob(job, err.Error(), true)
		c.dropPending(r)
		if merr := c.tenants.MarkBroken(context.Background(), tenantID, err.Error()); merr != nil {
			logger.Error("Failed to mark tenant broken", "tenant_id", tenantID, "error", merr)
		}
		if c.eventBus != nil {
			c.eventBus.PublishTenantConnectionBroken(events.TenantConnectionBrokenEvent{
				TenantID:  tenantID,
				Reason:    err.Error(),
				Timestamp: time.Now(),
			})
		}

	default:
		logger.Error("Job failed, checkpoint kept for resume", "error", err.Error())
		c.failJob(job, err.Error(), false)
	}
}

func (c *PassCoordinator) publishCompleted(job *jobs.Job) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.PublishPassCompleted(events.PassCompletedEvent{Job: job, Timestamp: time.Now()})
	if job.Type == jobs.JobTypeFullCrawl {
		c.eventBus.PublishFullCrawlCompleted(events.FullCrawlCompletedEvent{
			Scope:     job.Scope(),
			Job:       job,
			Timestamp: time.Now(),
		})
	}
}

// failJob fails a job with an error message
func (c *PassCoordinator) failJob(job *jobs.Job, errorMsg string, fatal bool) {
	jobLifecycle := &jobs.JobLifecycle{}
	if err := jobLifecycle.FailJob(job, errorMsg); err != nil {
		c.logger.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
	}
	job.State.Stats.ErrorsEncountered++

	if c.eventBus != nil {
		c.eventBus.PublishPassFailed(events.PassFailedEvent{
			Job:       job,
			Error:     errorMsg,
			Fatal:     fatal,
			Timestamp: time.Now(),
		})
	}
}

func (c *PassCoordinator) queue(r *runningJob, trigger jobs.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.pending = &trigger
}

func (c *PassCoordinator) dropPending(r *runningJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.pending = nil
}

// finish releases the scope, applies a requested crawl restart and starts the queued
// follow-up pass.
func (c *PassCoordinator) finish(r *runningJob) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := r.job.ScopeKey()
	if c.running[key] == r {
		delete(c.running, key)
	}
	scope := r.job.Scope()
	ctx := context.Background()
	if r.restartCrawl {
		if err := c.cursors.SaveProgress(ctx, scope, checkpoint.RestartCrawl()); err != nil {
			c.logger.WithScope(scope).Error("Failed to reset checkpoint", "error", err)
			return
		}
	}
	if r.pending == nil || c.closed || scope.DriveID == "" {
		return
	}

	trigger := *r.pending
	if err := c.checkTenant(ctx, scope.TenantID); err != nil {
		c.logger.WithScope(scope).Info("Dropping queued pass", "reason", err.Error())
		return
	}
	if _, err := c.startPassLocked(ctx, scope, trigger); err != nil {
		c.logger.WithScope(scope).Error("Failed to start queued pass", "error", err)
	}
}

// createProgressCallback creates a progress callback for job execution
func (c *PassCoordinator) createProgressCallback(job *jobs.Job) ProgressCallback {
	return func(stage, description string, percentage, itemsDone, itemsTotal int) {
		job.UpdateProgress(stage, description, percentage, itemsDone, itemsTotal)
		c.saveJob(job)
	}
}

func (c *PassCoordinator) saveJob(job *jobs.Job) {
	if err := c.jobRepo.UpdateJob(context.Background(), job); err != nil {
		c.logger.Error("Failed to update job", "job_id", job.ID, "error", err)
	}
}

func (c *PassCoordinator) checkTenant(ctx context.Context, tenantID string) error {
	t, err := c.tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if !t.CanSync() {
		return fmt.Errorf("tenant %s: %w", tenantID, contracts.ErrTenantInactive)
	}
	return nil
}

// RestartCrawl sends a drive back to a fresh full crawl and starts it. A running pass is
// cancelled first and the checkpoint is reset only after that pass has returned, so none of
// its writes can land after the reset.
func (c *PassCoordinator) RestartCrawl(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.running[scope.Key()]; ok {
		t := trigger
		r.pending = &t
		r.restartCrawl = true
		r.cancel()
		c.logger.WithScope(scope).Info("Cancelled running pass for a crawl restart", "job_id", r.job.ID)
		return snapshot(r.created), nil
	}

	if err := c.cursors.SaveProgress(ctx, scope, checkpoint.RestartCrawl()); err != nil {
		return nil, fmt.Errorf("reset checkpoint for %s: %w", scope, err)
	}
	if c.closed {
		return nil, ErrCoordinatorClosed
	}
	if err := c.checkTenant(ctx, scope.TenantID); err != nil {
		return nil, err
	}
	return c.startPassLocked(ctx, scope, trigger)
}

// CancelScope cancels the running pass of a scope and drops its queued follow-up.
func (c *PassCoordinator) CancelScope(scope drive.DriveScope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.running[scope.Key()]
	if !ok {
		return false
	}
	r.pending = nil
	r.cancel()
	c.logger.WithScope(scope).Info("Cancelled running pass", "job_id", r.job.ID)
	return true
}

// CancelTenant cancels every running drive pass of a tenant. Tenant-wide jobs keep running.
func (c *PassCoordinator) CancelTenant(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range c.running {
		scope := r.job.Scope()
		if scope.TenantID != tenantID || scope.DriveID == "" {
			continue
		}
		r.pending = nil
		r.cancel()
		n++
	}
	if n > 0 {
		c.logger.Info("Cancelled tenant passes", "tenant_id", tenantID, "count", n)
	}
	return n
}

// IsRunning reports whether a job currently holds the scope.
func (c *PassCoordinator) IsRunning(scope drive.DriveScope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[scope.Key()]
	return ok
}

// RunningJobs returns the launch copies of the jobs currently executing, ordered by scope key.
func (c *PassCoordinator) RunningJobs() []*jobs.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*jobs.Job, 0, len(c.running))
	for _, r := range c.running {
		out = append(out, snapshot(r.created))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeKey() < out[j].ScopeKey() })
	return out
}

// GetJob retrieves job by ID
func (c *PassCoordinator) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := c.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// CancelJob cancels a job. A running job stops at its next step boundary and is marked
// cancelled by its own goroutine; a job left active by a previous process is marked directly.
func (c *PassCoordinator) CancelJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := c.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job not found: %s: %w", jobID, contracts.ErrNotFound)
	}

	c.mu.Lock()
	r, ok := c.running[job.ScopeKey()]
	if ok && r.job.ID == jobID {
		r.pending = nil
		r.cancel()
		c.mu.Unlock()
		c.logger.Info("Cancelled running job context", "job_id", jobID)
		return job, nil
	}
	c.mu.Unlock()

	jobLifecycle := &jobs.JobLifecycle{}
	if err := jobLifecycle.CancelJob(job); err != nil {
		return nil, err
	}
	if err := c.jobRepo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	Type     jobs.JobType
	Status   jobs.JobStatus
	ScopeKey string
}

// ListJobs returns jobs newest first.
func (c *PassCoordinator) ListJobs(ctx context.Context, filter JobFilter) ([]*jobs.Job, error) {
	var (
		list []*jobs.Job
		err  error
	)
	switch {
	case filter.ScopeKey != "":
		list, err = c.jobRepo.ListJobsByScope(ctx, filter.ScopeKey)
	case filter.Type != "":
		list, err = c.jobRepo.ListJobsByType(ctx, filter.Type)
	case filter.Status != "":
		list, err = c.jobRepo.ListJobsByStatus(ctx, filter.Status)
	default:
		list, err = c.jobRepo.ListJobs(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*jobs.Job, 0, len(list))
	for _, job := range list {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// RecoverInterruptedJobs fails jobs a previous process left pending or running.
// Their checkpoints are intact; the scheduler resumes the drives.
func (c *PassCoordinator) RecoverInterruptedJobs(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []jobs.JobStatus{jobs.JobStatusPending, jobs.JobStatusRunning} {
		list, err := c.jobRepo.ListJobsByStatus(ctx, status)
		if err != nil {
			return n, err
		}
		for _, job := range list {
			if c.isCurrent(job.ID) {
				continue
			}
			jobLifecycle := &jobs.JobLifecycle{}
			if err := jobLifecycle.FailJob(job, "interrupted by restart"); err != nil {
				continue
			}
			if err := c.jobRepo.UpdateJob(ctx, job); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("Marked interrupted jobs failed", "count", n)
	}
	return n, nil
}

func (c *PassCoordinator) isCurrent(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.running {
		if r.job.ID == jobID {
			return true
		}
	}
	return false
}

// Wait blocks until no job is running, including queued follow-ups.
func (c *PassCoordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them, or for ctx.
func (c *PassCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, r := range c.running {
		r.pending = nil
		r.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot copies a job so callers never share memory with the executing goroutine.
func snapshot(job *jobs.Job) *jobs.Job {
	cp := *job
	cp.State.Timeline = append([]jobs.JobStageInfo(nil), job.State.Timeline...)
	cp.State.Messages = append([]string(nil), job.State.Messages...)
	return &cp
}
