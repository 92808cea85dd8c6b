package application

import (
	"log/slog"
	"time"

	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/logging"
)

// PassMetrics tracks timing and throughput for one sync pass.
type PassMetrics struct {
	// Timing metrics
	FetchDuration      time.Duration
	PermissionDuration time.Duration
	PublishDuration    time.Duration
	CheckpointDuration time.Duration
	TotalDuration      time.Duration

	// Throughput
	Stats                 jobs.JobStats
	ParentCacheHits       int
	AverageProcessingRate float64 // items per second
}

// NewPassMetrics creates an empty metrics collection.
func NewPassMetrics() *PassMetrics {
	return &PassMetrics{}
}

// StartTiming begins timing for an operation.
func (m *PassMetrics) StartTiming() time.Time {
	return time.Now()
}

// RecordFetch adds the time spent reading a feed page.
func (m *PassMetrics) RecordFetch(start time.Time) {
	m.FetchDuration += time.Since(start)
}

// RecordPermissions adds the time spent fetching permissions.
func (m *PassMetrics) RecordPermissions(start time.Time) {
	m.PermissionDuration += time.Since(start)
}

// RecordPublish adds the time spent in sink calls.
func (m *PassMetrics) RecordPublish(start time.Time) {
	m.PublishDuration += time.Since(start)
}

// RecordCheckpoint adds the time spent persisting the cursor.
func (m *PassMetrics) RecordCheckpoint(start time.Time) {
	m.CheckpointDuration += time.Since(start)
}

// RecordPage merges the counters of one page.
func (m *PassMetrics) RecordPage(stats jobs.JobStats, cacheHits int) {
	m.Stats.Add(stats)
	m.ParentCacheHits += cacheHits
}

// CalculateTotalDuration stores the total duration and the processing rate.
func (m *PassMetrics) CalculateTotalDuration(start time.Time) {
	m.TotalDuration = time.Since(start)

	if m.TotalDuration > 0 && m.Stats.ItemsSeen > 0 {
		m.AverageProcessingRate = float64(m.Stats.ItemsSeen) / m.TotalDuration.Seconds()
	}
}

// LogPassMetrics writes the summary through the performance logger.
func (m *PassMetrics) LogPassMetrics(logger *logging.Logger, operation string, scope drive.DriveScope) {
	logger.WithScope(scope).Performance(operation, m.TotalDuration,
		slog.Int64("fetch_ms", m.FetchDuration.Milliseconds()),
		slog.Int64("permissions_ms", m.PermissionDuration.Milliseconds()),
		slog.Int64("publish_ms", m.PublishDuration.Milliseconds()),
		slog.Int64("checkpoint_ms", m.CheckpointDuration.Milliseconds()),
		slog.Int("pages", m.Stats.PagesFetched),
		slog.Int("items_seen", m.Stats.ItemsSeen),
		slog.Int("items_upserted", m.Stats.ItemsUpserted),
		slog.Int("items_deleted", m.Stats.ItemsDeleted),
		slog.Int("items_dropped", m.Stats.ItemsDropped),
		slog.Int("permission_fetches", m.Stats.PermissionsFetched),
		slog.Int("records_skipped", m.Stats.RecordsSkipped),
		slog.Int("parent_cache_hits", m.ParentCacheHits),
		slog.Float64("items_per_sec", m.AverageProcessingRate),
	)
}
