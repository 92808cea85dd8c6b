package executors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"drivesync/application"
	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
)

type MockPassRunner struct {
	mock.Mock
}

func (m *MockPassRunner) RunPass(ctx context.Context, scope drive.DriveScope, progress application.ProgressCallback) (*application.PassResult, error) {
	args := m.Called(ctx, scope, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.PassResult), args.Error(1)
}

type MockRenewer struct {
	mock.Mock
}

func (m *MockRenewer) RenewDue(ctx context.Context, tenantID string) (application.RenewalReport, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(application.RenewalReport), args.Error(1)
}

type MockTeardown struct {
	mock.Mock
}

func (m *MockTeardown) Teardown(ctx context.Context, tenantID string) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}

func noProgress(stage, description string, percentage, itemsDone, itemsTotal int) {}

func newJob(jobType jobs.JobType, scope drive.DriveScope) *jobs.Job {
	factory := &jobs.JobFactory{}
	return factory.CreateJob(jobType, scope, jobs.TriggerManual)
}

func TestPassExecutor_Execute_RecordsStatsAndResult(t *testing.T) {
	// Arrange
	scope := drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"}
	runner := &MockPassRunner{}
	runner.On("RunPass", mock.Anything, scope, mock.Anything).Return(&application.PassResult{
		Scope:          scope,
		Mode:           application.ModeFullCrawl,
		Phase:          checkpoint.PhaseDeltaReady,
		CrawlCompleted: true,
		Stats:          jobs.JobStats{PagesFetched: 3, ItemsUpserted: 7},
	}, nil)
	job := newJob(jobs.JobTypeFullCrawl, scope)

	// Act
	err := NewPassExecutor(runner).Execute(context.Background(), job, noProgress)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, job.State.Stats.PagesFetched)
	assert.Equal(t, 7, job.State.Stats.ItemsUpserted)

	var data passResultData
	require.NoError(t, json.Unmarshal([]byte(job.Result), &data))
	assert.True(t, data.CrawlCompleted)
	assert.Equal(t, string(checkpoint.PhaseDeltaReady), data.Phase)
}

func TestPassExecutor_Execute_PartialResultOnError(t *testing.T) {
	// Arrange
	scope := drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"}
	runner := &MockPassRunner{}
	runner.On("RunPass", mock.Anything, scope, mock.Anything).Return(&application.PassResult{
		Scope: scope,
		Mode:  application.ModeDelta,
		Stats: jobs.JobStats{PagesFetched: 1},
	}, contracts.ErrPassCancelled)
	job := newJob(jobs.JobTypeDeltaPass, scope)

	// Act
	err := NewPassExecutor(runner).Execute(context.Background(), job, noProgress)

	// Assert
	assert.ErrorIs(t, err, contracts.ErrPassCancelled)
	assert.Equal(t, 1, job.State.Stats.PagesFetched)
}

func TestPassExecutor_Execute_NilResult(t *testing.T) {
	// Arrange
	scope := drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"}
	runner := &MockPassRunner{}
	runner.On("RunPass", mock.Anything, scope, mock.Anything).Return(nil, contracts.ErrCheckpointMissing)
	job := newJob(jobs.JobTypeDeltaPass, scope)

	// Act
	err := NewPassExecutor(runner).Execute(context.Background(), job, noProgress)

	// Assert
	assert.ErrorIs(t, err, contracts.ErrCheckpointMissing)
	assert.Empty(t, job.Result)
}

func TestRenewalExecutor_Execute(t *testing.T) {
	tests := []struct {
		name        string
		report      application.RenewalReport
		err         error
		wantErr     bool
		wantRenewed int
	}{
		{
			name:        "all renewed",
			report:      application.RenewalReport{Renewed: 2},
			wantRenewed: 2,
		},
		{
			name: "some expired and failed",
			report: application.RenewalReport{
				Renewed: 1,
				Expired: []drive.DriveScope{{TenantID: "t1", SiteID: "s1", DriveID: "d2"}},
				Failed:  1,
			},
			err:         errors.New("throttled"),
			wantErr:     true,
			wantRenewed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			renewer := &MockRenewer{}
			renewer.On("RenewDue", mock.Anything, "t1").Return(tt.report, tt.err)
			job := (&jobs.JobFactory{}).CreateTenantJob(jobs.JobTypeSubscriptionRenewal, "t1", jobs.TriggerScheduler)

			// Act
			err := NewRenewalExecutor(renewer).Execute(context.Background(), job, noProgress)

			// Assert
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRenewed, job.State.Stats.SubscriptionsDone)

			var data renewalResultData
			require.NoError(t, json.Unmarshal([]byte(job.Result), &data))
			assert.Len(t, data.Expired, len(tt.report.Expired))
		})
	}
}

func TestTeardownExecutor_Execute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		// Arrange
		teardown := &MockTeardown{}
		teardown.On("Teardown", mock.Anything, "t1").Return(4, nil)
		job := (&jobs.JobFactory{}).CreateTenantJob(jobs.JobTypeTenantTeardown, "t1", jobs.TriggerManual)

		// Act
		err := NewTeardownExecutor(teardown).Execute(context.Background(), job, noProgress)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 4, job.State.Stats.SubscriptionsDone)
		assert.Contains(t, job.Result, "tenant_removed")
	})

	t.Run("failure keeps partial count", func(t *testing.T) {
		// Arrange
		teardown := &MockTeardown{}
		teardown.On("Teardown", mock.Anything, "t1").Return(2, contracts.ErrTransient)
		job := (&jobs.JobFactory{}).CreateTenantJob(jobs.JobTypeTenantTeardown, "t1", jobs.TriggerManual)

		// Act
		err := NewTeardownExecutor(teardown).Execute(context.Background(), job, noProgress)

		// Assert
		assert.ErrorIs(t, err, contracts.ErrTransient)
		assert.Equal(t, 2, job.State.Stats.SubscriptionsDone)
		assert.Empty(t, job.Result)
	})
}
