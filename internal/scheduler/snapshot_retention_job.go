package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotRetentionJob removes snapshots older than the retention period,
// archiving them first when a bucket is configured, then rotates old archives.
type SnapshotRetentionJob struct {
	pruner           SnapshotPruner
	metrics          MetricsRecorder
	retention        time.Duration
	archiveRetention time.Duration
	timeout          time.Duration
	now              func() time.Time
	log              zerolog.Logger
}

// NewSnapshotRetentionJob creates a new retention job. A zero retention keeps
// snapshots forever; a zero archive retention keeps archives forever.
func NewSnapshotRetentionJob(pruner SnapshotPruner, metrics MetricsRecorder, retentionDays, archiveRetentionDays int, log zerolog.Logger) *SnapshotRetentionJob {
	return &SnapshotRetentionJob{
		pruner:           pruner,
		metrics:          metrics,
		retention:        time.Duration(retentionDays) * 24 * time.Hour,
		archiveRetention: time.Duration(archiveRetentionDays) * 24 * time.Hour,
		timeout:          30 * time.Minute,
		now:              time.Now,
		log:              log.With().Str("job", "snapshot_retention").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotRetentionJob) Name() string {
	return "snapshot_retention"
}

// Run executes the retention job
func (j *SnapshotRetentionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	now := j.now()

	if j.retention > 0 {
		cutoff := now.Add(-j.retention)
		result, err := j.pruner.Prune(ctx, cutoff)
		if j.metrics != nil {
			j.metrics.ObservePrune(result.Archived, result.Deleted)
		}
		if err != nil {
			j.log.Error().Err(err).Int("archived", result.Archived).Msg("Snapshot pruning failed")
			return fmt.Errorf("snapshot pruning failed: %w", err)
		}
		j.log.Info().
			Time("cutoff", cutoff).
			Int("archived", result.Archived).
			Int64("deleted", result.Deleted).
			Msg("Snapshot retention completed")
	}

	if j.archiveRetention > 0 {
		deleted, err := j.pruner.RotateArchives(ctx, now.Add(-j.archiveRetention))
		if err != nil {
			return fmt.Errorf("archive rotation failed: %w", err)
		}
		if deleted > 0 {
			j.log.Info().Int("deleted", deleted).Msg("Rotated old snapshot archives")
		}
	}
	return nil
}
