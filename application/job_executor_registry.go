package application

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"drivesync/domain/jobs"
)

// ErrNoExecutor is returned when a job type has nothing registered to run it.
var ErrNoExecutor = errors.New("no executor registered")

// Pass jobs run against one drive; the checkpoint phase decides which of the two is launched.
// Tenant jobs run against every drive of a tenant.
var (
	passJobTypes   = []jobs.JobType{jobs.JobTypeFullCrawl, jobs.JobTypeDeltaPass}
	tenantJobTypes = []jobs.JobType{jobs.JobTypeSubscriptionRenewal, jobs.JobTypeTenantTeardown}
)

// JobExecutorRegistry maps each job type the coordinator can launch to its executor.
type JobExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[jobs.JobType]JobExecutor
}

// NewJobExecutorRegistry creates an empty registry.
func NewJobExecutorRegistry() *JobExecutorRegistry {
	return &JobExecutorRegistry{executors: make(map[jobs.JobType]JobExecutor)}
}

// RegisterPassExecutor runs both full crawls and delta passes with executor.
func (r *JobExecutorRegistry) RegisterPassExecutor(executor JobExecutor) error {
	for _, jobType := range passJobTypes {
		if err := r.RegisterExecutor(jobType, executor); err != nil {
			return err
		}
	}
	return nil
}

// RegisterExecutor sets the executor of one job type. Unknown types and a second
// registration for the same type are rejected.
func (r *JobExecutorRegistry) RegisterExecutor(jobType jobs.JobType, executor JobExecutor) error {
	if !slices.Contains(passJobTypes, jobType) && !slices.Contains(tenantJobTypes, jobType) {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	if executor == nil {
		return fmt.Errorf("nil executor for job type %s", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[jobType]; exists {
		return fmt.Errorf("executor for job type %s already registered", jobType)
	}
	r.executors[jobType] = executor
	return nil
}

// GetExecutor returns the executor of a job type, or ErrNoExecutor.
func (r *JobExecutorRegistry) GetExecutor(jobType jobs.JobType) (JobExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[jobType]
	if !ok {
		return nil, fmt.Errorf("job type %s: %w", jobType, ErrNoExecutor)
	}
	return executor, nil
}

// Validate fails when any pass or tenant job type is left without an executor.
func (r *JobExecutorRegistry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []error
	for _, jobType := range slices.Concat(passJobTypes, tenantJobTypes) {
		if _, ok := r.executors[jobType]; !ok {
			missing = append(missing, fmt.Errorf("job type %s: %w", jobType, ErrNoExecutor))
		}
	}
	return errors.Join(missing...)
}
