package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"drivesync/application"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/interfaces/web/presenters"
)

// MockJobAdmin is a testify mock of the job endpoints' dependency.
type MockJobAdmin struct {
	mock.Mock
}

func (m *MockJobAdmin) ListJobs(ctx context.Context, filter application.JobFilter) ([]*jobs.Job, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*jobs.Job), args.Error(1)
}

func (m *MockJobAdmin) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	args := m.Called(jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockJobAdmin) CancelJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	args := m.Called(jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

// withURLParams attaches chi route parameters given as key, value pairs.
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func testJob(id string, status jobs.JobStatus) *jobs.Job {
	job := (&jobs.JobFactory{}).CreateJob(jobs.JobTypeDeltaPass,
		drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"}, jobs.TriggerWebhook)
	job.ID = id
	job.Status = status
	return job
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestJobHandlers_ListJobs_Filters(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		filter application.JobFilter
	}{
		{name: "no_filter", query: "", filter: application.JobFilter{}},
		{
			name:   "type_and_status",
			query:  "?type=full_crawl&status=failed",
			filter: application.JobFilter{Type: jobs.JobTypeFullCrawl, Status: jobs.JobStatusFailed},
		},
		{
			name:   "drive_scope",
			query:  "?tenant_id=t1&site_id=s1&drive_id=d1",
			filter: application.JobFilter{ScopeKey: "t1/s1/d1"},
		},
		{
			name:   "tenant_jobs",
			query:  "?tenant_id=t1",
			filter: application.JobFilter{ScopeKey: "t1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			admin := new(MockJobAdmin)
			admin.On("ListJobs", tt.filter).Return([]*jobs.Job{testJob("job-1", jobs.JobStatusRunning)}, nil)
			h := NewJobHandlers(admin, presenters.NewJobPresenter())

			req := httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil)
			w := httptest.NewRecorder()

			// Act
			h.ListJobs(w, req)

			// Assert
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var view presenters.JobListView
			decodeBody(t, w, &view)
			require.Len(t, view.Jobs, 1)
			assert.Equal(t, "job-1", view.Jobs[0].ID)
			admin.AssertExpectations(t)
		})
	}
}

func TestJobHandlers_ListJobs_PartialScopeRejected(t *testing.T) {
	// Arrange
	admin := new(MockJobAdmin)
	h := NewJobHandlers(admin, presenters.NewJobPresenter())
	req := httptest.NewRequest(http.MethodGet, "/jobs?tenant_id=t1&drive_id=d1", nil)
	w := httptest.NewRecorder()

	// Act
	h.ListJobs(w, req)

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	admin.AssertNotCalled(t, "ListJobs", mock.Anything)
}

func TestJobHandlers_GetJobStatus(t *testing.T) {
	tests := []struct {
		name       string
		job        *jobs.Job
		err        error
		wantStatus int
	}{
		{name: "found", job: testJob("job-1", jobs.JobStatusCompleted), wantStatus: http.StatusOK},
		{name: "missing", job: nil, wantStatus: http.StatusNotFound},
		{name: "store_error", err: fmt.Errorf("disk full"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			admin := new(MockJobAdmin)
			if tt.job != nil {
				admin.On("GetJob", "job-1").Return(tt.job, tt.err)
			} else {
				admin.On("GetJob", "job-1").Return(nil, tt.err)
			}
			h := NewJobHandlers(admin, presenters.NewJobPresenter())
			req := withURLParams(httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil), "jobID", "job-1")
			w := httptest.NewRecorder()

			// Act
			h.GetJobStatus(w, req)

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var view presenters.JobStatusView
				decodeBody(t, w, &view)
				assert.Equal(t, "completed", view.Status)
				assert.Equal(t, "d1", view.DriveID)
			}
		})
	}
}

func TestJobHandlers_CancelJob(t *testing.T) {
	tests := []struct {
		name       string
		job        *jobs.Job
		err        error
		wantStatus int
	}{
		{name: "running_job", job: testJob("job-1", jobs.JobStatusRunning), wantStatus: http.StatusAccepted},
		{
			name:       "unknown_job",
			err:        fmt.Errorf("job not found: job-1: %w", contracts.ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		{name: "finished_job", err: fmt.Errorf("cannot cancel inactive job"), wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			admin := new(MockJobAdmin)
			if tt.job != nil {
				admin.On("CancelJob", "job-1").Return(tt.job, nil)
			} else {
				admin.On("CancelJob", "job-1").Return(nil, tt.err)
			}
			h := NewJobHandlers(admin, presenters.NewJobPresenter())
			req := withURLParams(httptest.NewRequest(http.MethodPost, "/jobs/job-1/cancel", nil), "jobID", "job-1")
			w := httptest.NewRecorder()

			// Act
			h.CancelJob(w, req)

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.err != nil {
				var view ErrorView
				decodeBody(t, w, &view)
				assert.Equal(t, tt.err.Error(), view.Error)
			}
			admin.AssertExpectations(t)
		})
	}
}
