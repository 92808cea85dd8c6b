package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"drivesync/domain/drive"
	"drivesync/domain/jobs"
)

// MockPassTrigger implements the coordinator surface the services depend on.
type MockPassTrigger struct {
	mock.Mock
}

func (m *MockPassTrigger) TriggerPass(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	args := m.Called(ctx, scope, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockPassTrigger) RunTenantJob(ctx context.Context, tenantID string, jobType jobs.JobType, trigger jobs.Trigger) (*jobs.Job, error) {
	args := m.Called(ctx, tenantID, jobType, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockPassTrigger) RestartCrawl(ctx context.Context, scope drive.DriveScope, trigger jobs.Trigger) (*jobs.Job, error) {
	args := m.Called(ctx, scope, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockPassTrigger) CancelScope(scope drive.DriveScope) bool {
	args := m.Called(scope)
	return args.Bool(0)
}

func (m *MockPassTrigger) CancelTenant(tenantID string) int {
	args := m.Called(tenantID)
	return args.Int(0)
}

func (m *MockPassTrigger) IsRunning(scope drive.DriveScope) bool {
	args := m.Called(scope)
	return args.Bool(0)
}
