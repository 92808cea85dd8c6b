package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/jobs"
	"drivesync/domain/tenant"
)

func TestSqliteTenantRepository_Lifecycle(t *testing.T) {
	// Arrange
	repo := NewSqliteTenantRepository(newTestDatabase(t))
	ctx := context.Background()

	// Act
	require.NoError(t, repo.Upsert(ctx, &tenant.Tenant{ID: "t1", Status: tenant.StatusActive}))
	require.NoError(t, repo.MarkBroken(ctx, "t1", "credentials revoked"))
	broken, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, "t1", tenant.StatusActive))
	reactivated, err := repo.Get(ctx, "t1")
	require.NoError(t, err)

	// Assert
	require.NotNil(t, broken)
	assert.Equal(t, tenant.StatusBroken, broken.Status)
	assert.Equal(t, "credentials revoked", broken.LastError)
	assert.False(t, broken.CanSync())

	assert.Equal(t, tenant.StatusActive, reactivated.Status)
	assert.Empty(t, reactivated.LastError)
	assert.True(t, reactivated.CanSync())
}

func TestSqliteTenantRepository_ListAndDelete(t *testing.T) {
	// Arrange
	repo := NewSqliteTenantRepository(newTestDatabase(t))
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, &tenant.Tenant{ID: "b", Status: tenant.StatusActive}))
	require.NoError(t, repo.Upsert(ctx, &tenant.Tenant{ID: "a", Status: tenant.StatusUninstalling}))

	// Act
	listed, err := repo.List(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "a"))
	deleted, err := repo.Get(ctx, "a")
	require.NoError(t, err)

	// Assert
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].ID)
	assert.Equal(t, tenant.StatusUninstalling, listed[0].Status)
	assert.Nil(t, deleted)
}

func TestSqliteJobRepository_RoundTrip(t *testing.T) {
	// Arrange
	repo := NewSqliteJobRepository(newTestDatabase(t))
	ctx := context.Background()
	factory := &jobs.JobFactory{}
	lifecycle := &jobs.JobLifecycle{}

	job := factory.CreateJob(jobs.JobTypeDeltaPass, scopeA, jobs.TriggerWebhook)
	require.NoError(t, repo.CreateJob(ctx, job))

	// Act
	require.NoError(t, lifecycle.StartJob(job))
	job.RecordStats(jobs.JobStats{PagesFetched: 2, ItemsUpserted: 5})
	require.NoError(t, lifecycle.CompleteJob(job, "5 upserted"))
	require.NoError(t, repo.UpdateJob(ctx, job))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	byScope, err := repo.ListJobsByScope(ctx, scopeA.Key())
	require.NoError(t, err)
	byStatus, err := repo.ListJobsByStatus(ctx, jobs.JobStatusCompleted)
	require.NoError(t, err)
	byType, err := repo.ListJobsByType(ctx, jobs.JobTypeFullCrawl)
	require.NoError(t, err)

	// Assert
	require.NotNil(t, stored)
	assert.Equal(t, jobs.JobStatusCompleted, stored.Status)
	assert.Equal(t, "5 upserted", stored.Result)
	assert.Equal(t, scopeA, stored.Context.Scope)
	assert.Equal(t, jobs.TriggerWebhook, stored.Context.Trigger)
	assert.Equal(t, 2, stored.State.Stats.PagesFetched)
	assert.Equal(t, 5, stored.State.Stats.ItemsUpserted)
	require.NotNil(t, stored.CompletedAt)

	assert.Len(t, byScope, 1)
	assert.Len(t, byStatus, 1)
	assert.Empty(t, byType)
}

func TestSqliteJobRepository_DeleteOldJobs(t *testing.T) {
	// Arrange
	repo := NewSqliteJobRepository(newTestDatabase(t))
	ctx := context.Background()
	factory := &jobs.JobFactory{}
	lifecycle := &jobs.JobLifecycle{}

	finished := factory.CreateJob(jobs.JobTypeFullCrawl, scopeA, jobs.TriggerRegistration)
	require.NoError(t, repo.CreateJob(ctx, finished))
	require.NoError(t, lifecycle.StartJob(finished))
	require.NoError(t, lifecycle.CompleteJob(finished, "done"))
	require.NoError(t, repo.UpdateJob(ctx, finished))

	running := factory.CreateJob(jobs.JobTypeDeltaPass, scopeB, jobs.TriggerScheduler)
	require.NoError(t, repo.CreateJob(ctx, running))

	// Act
	require.NoError(t, repo.DeleteOldJobs(ctx, time.Now().Add(time.Hour)))
	remaining, err := repo.ListJobs(ctx)
	require.NoError(t, err)

	// Assert
	require.Len(t, remaining, 1)
	assert.Equal(t, running.ID, remaining[0].ID)
}
