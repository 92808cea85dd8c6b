package presenters

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/drive"
	"drivesync/domain/jobs"
)

var presenterNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Helper to create test job data
func createTestJob(id string, jobType jobs.JobType, status jobs.JobStatus) *jobs.Job {
	job := &jobs.Job{
		ID:        id,
		Type:      jobType,
		Status:    status,
		StartedAt: presenterNow.Add(-90 * time.Second),
		Context: jobs.SyncJobContext{
			Scope:   drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"},
			Trigger: jobs.TriggerWebhook,
		},
	}
	job.InitializeState()
	return job
}

func newTestJobPresenter() *JobPresenter {
	p := NewJobPresenter()
	p.now = func() time.Time { return presenterNow }
	return p
}

func TestJobPresenter_FormatJobStatus_BasicFields(t *testing.T) {
	// Arrange
	presenter := newTestJobPresenter()
	job := createTestJob("job-123", jobs.JobTypeDeltaPass, jobs.JobStatusRunning)

	// Act
	result := presenter.FormatJobStatus(job)

	// Assert
	require.NotNil(t, result)
	assert.Equal(t, "job-123", result.ID)
	assert.Equal(t, "delta_pass", result.Type)
	assert.Equal(t, "Delta Pass", result.TypeName)
	assert.Equal(t, "running", result.Status)
	assert.Equal(t, "webhook", result.Trigger)
	assert.Equal(t, "t1", result.TenantID)
	assert.Equal(t, "d1", result.DriveID)
	assert.Equal(t, "initializing", result.Stage)
	assert.Equal(t, "1m30s", result.Duration)
	assert.True(t, result.IsActive)
	assert.False(t, result.IsComplete)
	assert.Empty(t, result.CompletedAt)
}

func TestJobPresenter_FormatJobStatus_CompletedWithResult(t *testing.T) {
	tests := []struct {
		name         string
		result       string
		expectResult bool
	}{
		{name: "json_result", result: `{"mode":"delta","crawl_completed":false}`, expectResult: true},
		{name: "plain_text_result", result: "done", expectResult: false},
		{name: "no_result", result: "", expectResult: false},
	}

	presenter := newTestJobPresenter()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			job := createTestJob("completed", jobs.JobTypeFullCrawl, jobs.JobStatusCompleted)
			completedAt := job.StartedAt.Add(2 * time.Second)
			job.CompletedAt = &completedAt
			job.Result = tt.result
			job.RecordStats(jobs.JobStats{PagesFetched: 3, ItemsUpserted: 40})

			// Act
			view := presenter.FormatJobStatus(job)

			// Assert
			require.NotNil(t, view)
			assert.Equal(t, "2s", view.Duration)
			assert.NotEmpty(t, view.CompletedAt)
			assert.Equal(t, 3, view.Stats.PagesFetched)
			assert.Equal(t, 40, view.Stats.ItemsUpserted)
			if tt.expectResult {
				assert.JSONEq(t, tt.result, string(view.Result))
			} else {
				assert.Nil(t, view.Result)
			}
		})
	}
}

func TestJobPresenter_FormatJobStatus_Timeline(t *testing.T) {
	// Arrange
	presenter := newTestJobPresenter()
	job := createTestJob("job-timeline", jobs.JobTypeFullCrawl, jobs.JobStatusRunning)
	job.UpdateProgress("crawling", "Fetched page 1", 0, 200, 0)
	job.UpdateProgress("crawling", "Fetched page 2", 0, 400, 0)

	// Act
	view := presenter.FormatJobStatus(job)

	// Assert
	require.Len(t, view.Timeline, 2)
	assert.Equal(t, "initializing", view.Timeline[0].Stage)
	assert.NotEmpty(t, view.Timeline[0].Completed)
	assert.Equal(t, "crawling", view.Timeline[1].Stage)
	assert.Empty(t, view.Timeline[1].Completed)
	assert.Equal(t, "Fetched page 2", view.Description)
	assert.Len(t, view.RecentMessages, 2)
}

func TestJobPresenter_FormatJobList(t *testing.T) {
	// Arrange
	presenter := newTestJobPresenter()
	list := []*jobs.Job{
		createTestJob("job-1", jobs.JobTypeFullCrawl, jobs.JobStatusRunning),
		nil,
		createTestJob("job-2", jobs.JobTypeTenantTeardown, jobs.JobStatusFailed),
	}

	// Act
	result := presenter.FormatJobList(list)

	// Assert
	require.Len(t, result.Jobs, 2)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "job-1", result.Jobs[0].ID)
	assert.Equal(t, "job-2", result.Jobs[1].ID)

	encoded, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"count":2`)
}

func TestJobPresenter_FormatJobStatus_Nil(t *testing.T) {
	assert.Nil(t, NewJobPresenter().FormatJobStatus(nil))
}
