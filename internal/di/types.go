// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/greekwatch/internal/clients/pricing"
	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/database"
	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/metrics"
	"github.com/aristath/greekwatch/internal/modules/greeks"
	"github.com/aristath/greekwatch/internal/modules/greeks/alerts"
	"github.com/aristath/greekwatch/internal/reliability"
	"github.com/aristath/greekwatch/internal/scheduler"
)

// Container holds all dependencies for the application.
//
// It is created by Wire and passed to the server and the main loop.
// Databases: greeks (snapshots, alerts, positions) and cache (last-known
// Greeks). Services: pricing client, calculator, alert engine, notifier and
// archiver. Jobs are registered with Scheduler but not started.
type Container struct {
	Config *config.Config

	// Databases
	GreeksDB *database.DB
	CacheDB  *database.DB

	// Events and metrics
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Metrics

	// Repositories
	Repository *greeks.Repository
	Positions  *greeks.PositionRepository
	Cache      *greeks.CacheProvider

	// Services
	PricingClient *pricing.Client
	Calculator    *greeks.Calculator
	AlertEngine   *alerts.Engine
	Limits        *greeks.LimitsBook
	Notifier      greeks.Notifier
	ArchiveClient *reliability.S3Client // nil without a bucket
	Archiver      *reliability.SnapshotArchiver

	// Jobs
	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances holds the registered jobs for manual triggering via API
type JobInstances struct {
	GreeksMonitor     *scheduler.GreeksMonitorJob
	AlertStateCleanup *scheduler.AlertStateCleanupJob
	SnapshotRetention *scheduler.SnapshotRetentionJob
	DailyMaintenance  *reliability.DailyMaintenanceJob
	WeeklyMaintenance *reliability.WeeklyMaintenanceJob
}

// All returns every job instance.
func (j *JobInstances) All() []scheduler.Job {
	return []scheduler.Job{
		j.GreeksMonitor,
		j.AlertStateCleanup,
		j.SnapshotRetention,
		j.DailyMaintenance,
		j.WeeklyMaintenance,
	}
}

// Databases returns the open databases by name.
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.GreeksDB != nil {
		dbs[database.NameGreeks] = c.GreeksDB
	}
	if c.CacheDB != nil {
		dbs[database.NameCache] = c.CacheDB
	}
	return dbs
}

// Close closes every open database.
func (c *Container) Close() {
	for _, db := range c.Databases() {
		db.Close()
	}
}
