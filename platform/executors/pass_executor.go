package executors

import (
	"context"
	"encoding/json"
	"time"

	"drivesync/application"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// PassExecutor runs full crawl and delta pass jobs. The drive's checkpoint decides which pass
// actually runs, so one executor serves both job types.
type PassExecutor struct {
	runner application.PassRunner
	logger *logging.Logger
}

// NewPassExecutor creates a pass executor.
func NewPassExecutor(runner application.PassRunner) *PassExecutor {
	return &PassExecutor{
		runner: runner,
		logger: logging.Default().WithComponent("pass_executor"),
	}
}

type passResultData struct {
	Mode           string        `json:"mode"`
	Phase          string        `json:"phase"`
	CrawlCompleted bool          `json:"crawl_completed"`
	Stats          jobs.JobStats `json:"stats"`
	DurationMS     int64         `json:"duration_ms"`
}

// Execute implements application.JobExecutor.
func (e *PassExecutor) Execute(ctx context.Context, job *jobs.Job, progressCallback application.ProgressCallback) error {
	scope := job.Scope()
	e.logger.WithScope(scope).Info("Starting pass execution", "job_id", job.ID, "job_type", job.Type)
	start := time.Now()

	result, err := e.runner.RunPass(ctx, scope, progressCallback)
	if result != nil {
		// Partial passes still report what they committed.
		job.RecordStats(result.Stats)
		if serr := e.storeResultInJob(job, result, time.Since(start)); serr != nil {
			e.logger.Warn("Failed to store pass result in job", "job_id", job.ID, "error", serr)
		}
	}
	if err != nil {
		return err
	}

	e.logger.WithScope(scope).Info("Pass execution completed", "job_id", job.ID, "mode", result.Mode)
	return nil
}

func (e *PassExecutor) storeResultInJob(job *jobs.Job, result *application.PassResult, elapsed time.Duration) error {
	resultJSON, err := json.Marshal(passResultData{
		Mode:           string(result.Mode),
		Phase:          string(result.Phase),
		CrawlCompleted: result.CrawlCompleted,
		Stats:          result.Stats,
		DurationMS:     elapsed.Milliseconds(),
	})
	if err != nil {
		return err
	}
	job.Result = string(resultJSON)
	return nil
}
