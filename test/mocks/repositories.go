package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"drivesync/domain/jobs"
	"drivesync/domain/tenant"
)

// MemoryTenantRepository implements TenantRepository in memory.
type MemoryTenantRepository struct {
	mu      sync.Mutex
	tenants map[string]tenant.Tenant
	// Err is returned by every call when set.
	Err error
}

// NewMemoryTenantRepository creates a repository seeded with the given tenants.
func NewMemoryTenantRepository(seed ...*tenant.Tenant) *MemoryTenantRepository {
	r := &MemoryTenantRepository{tenants: make(map[string]tenant.Tenant)}
	for _, t := range seed {
		r.tenants[t.ID] = *t
	}
	return r
}

func (r *MemoryTenantRepository) Get(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *MemoryTenantRepository) Upsert(_ context.Context, t *tenant.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	stored := *t
	if existing, ok := r.tenants[t.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = time.Now().UTC()
	r.tenants[t.ID] = stored
	return nil
}

func (r *MemoryTenantRepository) MarkBroken(_ context.Context, tenantID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if t, ok := r.tenants[tenantID]; ok {
		t.Status = tenant.StatusBroken
		t.LastError = reason
		r.tenants[tenantID] = t
	}
	return nil
}

func (r *MemoryTenantRepository) SetStatus(_ context.Context, tenantID string, status tenant.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if t, ok := r.tenants[tenantID]; ok {
		t.Status = status
		if status == tenant.StatusActive {
			t.LastError = ""
		}
		r.tenants[tenantID] = t
	}
	return nil
}

func (r *MemoryTenantRepository) List(_ context.Context) ([]*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]*tenant.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryTenantRepository) Delete(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.tenants, tenantID)
	return nil
}

// MemoryJobRepository implements JobRepository in memory. Jobs are copied on write.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
}

// NewMemoryJobRepository creates an empty repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*jobs.Job)}
}

func copyJob(job *jobs.Job) *jobs.Job {
	cp := *job
	cp.State.Timeline = append([]jobs.JobStageInfo(nil), job.State.Timeline...)
	cp.State.Messages = append([]string(nil), job.State.Messages...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (r *MemoryJobRepository) GetJob(_ context.Context, jobID string) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return copyJob(job), nil
}

func (r *MemoryJobRepository) list(keep func(*jobs.Job) bool) []*jobs.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*jobs.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if keep(job) {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (r *MemoryJobRepository) ListJobs(_ context.Context) ([]*jobs.Job, error) {
	return r.list(func(*jobs.Job) bool { return true }), nil
}

func (r *MemoryJobRepository) ListJobsByType(_ context.Context, jobType jobs.JobType) ([]*jobs.Job, error) {
	return r.list(func(j *jobs.Job) bool { return j.Type == jobType }), nil
}

func (r *MemoryJobRepository) ListJobsByStatus(_ context.Context, status jobs.JobStatus) ([]*jobs.Job, error) {
	return r.list(func(j *jobs.Job) bool { return j.Status == status }), nil
}

func (r *MemoryJobRepository) ListJobsByScope(_ context.Context, scopeKey string) ([]*jobs.Job, error) {
	return r.list(func(j *jobs.Job) bool { return j.ScopeKey() == scopeKey }), nil
}

func (r *MemoryJobRepository) CreateJob(_ context.Context, job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *MemoryJobRepository) UpdateJob(_ context.Context, job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *MemoryJobRepository) DeleteOldJobs(_ context.Context, olderThan time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if job.IsComplete() && job.CompletedAt != nil && job.CompletedAt.Before(olderThan) {
			delete(r.jobs, id)
		}
	}
	return nil
}
