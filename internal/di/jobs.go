package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/reliability"
	"github.com/aristath/greekwatch/internal/scheduler"
)

// RegisterJobs creates every job and schedules it. The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}

	// Job 1: Greeks monitor cycle
	instances.GreeksMonitor = scheduler.NewGreeksMonitorJob(scheduler.GreeksMonitorConfig{
		Log:              log,
		Positions:        container.Positions,
		Calculator:       container.Calculator,
		Repository:       container.Repository,
		Engine:           container.AlertEngine,
		Limits:           container.Limits,
		Notifier:         container.Notifier,
		EventManager:     container.EventManager,
		Metrics:          container.Metrics,
		ROCWindowSeconds: cfg.Monitor.ROCWindowSeconds,
	})

	// Job 2: Alert state cleanup
	instances.AlertStateCleanup = scheduler.NewAlertStateCleanupJob(container.AlertEngine, container.Metrics, log)

	// Job 3: Snapshot retention and archive rotation
	instances.SnapshotRetention = scheduler.NewSnapshotRetentionJob(
		container.Archiver,
		container.Metrics,
		cfg.Monitor.RetentionDays,
		cfg.Monitor.ArchiveRetentionDays,
		log,
	)

	// Jobs 4 and 5: Database maintenance
	databases := container.Databases()
	instances.DailyMaintenance = reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)
	instances.WeeklyMaintenance = reliability.NewWeeklyMaintenanceJob(databases, container.Cache, log)

	container.Scheduler = scheduler.New(log)
	schedules := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.Monitor.Schedule, instances.GreeksMonitor},
		{cfg.Monitor.CleanupSchedule, instances.AlertStateCleanup},
		{cfg.Monitor.RetentionSchedule, instances.SnapshotRetention},
		{cfg.Monitor.MaintenanceSchedule, instances.DailyMaintenance},
		{cfg.Monitor.WeeklyMaintenanceSpec, instances.WeeklyMaintenance},
	}
	for _, s := range schedules {
		if err := container.Scheduler.AddJob(s.spec, s.job); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", s.job.Name(), err)
		}
	}

	container.Jobs = instances
	log.Info().Int("jobs", container.Scheduler.JobCount()).Msg("Jobs registered")
	return instances, nil
}
