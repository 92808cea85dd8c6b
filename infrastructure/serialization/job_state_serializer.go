package serialization

import (
	"encoding/json"
	"fmt"

	"drivesync/domain/jobs"
)

// JobStateSerializer handles JSON serialization/deserialization of job state and context.
type JobStateSerializer struct{}

// NewJobStateSerializer creates a new job state serializer.
func NewJobStateSerializer() *JobStateSerializer {
	return &JobStateSerializer{}
}

// SerializeState converts JobState to JSON string.
func (s *JobStateSerializer) SerializeState(state jobs.JobState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job state: %w", err)
	}
	return string(data), nil
}

// DeserializeState converts JSON string to JobState. Empty input yields the initial state.
func (s *JobStateSerializer) DeserializeState(jsonStr string) (jobs.JobState, error) {
	if jsonStr == "" || jsonStr == "{}" {
		job := jobs.Job{}
		job.InitializeState()
		return job.State, nil
	}

	var state jobs.JobState
	if err := json.Unmarshal([]byte(jsonStr), &state); err != nil {
		return jobs.JobState{}, fmt.Errorf("failed to unmarshal job state: %w", err)
	}
	if state.Timeline == nil {
		state.Timeline = []jobs.JobStageInfo{}
	}
	return state, nil
}

// SerializeContext converts the job's scope and trigger to JSON for storage.
func (s *JobStateSerializer) SerializeContext(context jobs.SyncJobContext) (string, error) {
	data, err := json.Marshal(context)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job context: %w", err)
	}
	return string(data), nil
}

// DeserializeContext converts a stored JSON context back to SyncJobContext.
func (s *JobStateSerializer) DeserializeContext(jsonStr string) (jobs.SyncJobContext, error) {
	if jsonStr == "" {
		return jobs.SyncJobContext{}, nil
	}

	var context jobs.SyncJobContext
	if err := json.Unmarshal([]byte(jsonStr), &context); err != nil {
		return jobs.SyncJobContext{}, fmt.Errorf("failed to unmarshal job context: %w", err)
	}
	return context, nil
}
