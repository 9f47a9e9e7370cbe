package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/greekwatch/internal/database"
)

// MinFreeDiskBytes is the free space below which daily maintenance fails.
const MinFreeDiskBytes = 500 * 1024 * 1024

// DiskUsageFunc reports usage of the filesystem holding path.
type DiskUsageFunc func(path string) (*disk.UsageStat, error)

// CacheSweeper drops expired Greeks cache entries.
type CacheSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// DailyMaintenanceJob checks database health, truncates WAL files and
// verifies free disk space.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	diskUsage DiskUsageFunc
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		diskUsage: disk.Usage,
		timeout:   5 * time.Minute,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	// Step 1: Integrity check for all databases
	for name, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("CRITICAL: Database integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	// Step 2: WAL checkpoint for all databases (prevent bloat)
	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	// Step 3: Check disk space
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().
		Float64("available_gb", availableGB).
		Float64("used_pct", usage.UsedPercent).
		Msg("Disk space check")

	if usage.Free < MinFreeDiskBytes {
		j.log.Error().Float64("available_gb", availableGB).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if usage.UsedPercent > 90 {
		j.log.Warn().Float64("used_pct", usage.UsedPercent).Msg("Disk usage above 90%")
	}
	return nil
}

// WeeklyMaintenanceJob sweeps expired cache entries and vacuums the databases.
type WeeklyMaintenanceJob struct {
	databases map[string]*database.DB
	cache     CacheSweeper
	timeout   time.Duration
	log       zerolog.Logger
}

// NewWeeklyMaintenanceJob creates a new weekly maintenance job. cache may be nil.
func NewWeeklyMaintenanceJob(databases map[string]*database.DB, cache CacheSweeper, log zerolog.Logger) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{
		databases: databases,
		cache:     cache,
		timeout:   30 * time.Minute,
		log:       log.With().Str("job", "weekly_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *WeeklyMaintenanceJob) Name() string {
	return "weekly_maintenance"
}

// Run executes the weekly maintenance job
func (j *WeeklyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting weekly maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if j.cache != nil {
		swept, err := j.cache.DeleteExpired(ctx)
		if err != nil {
			j.log.Error().Err(err).Msg("Failed to sweep greeks cache")
		} else {
			j.log.Info().Int64("entries", swept).Msg("Swept expired greeks cache entries")
		}
	}

	for name, db := range j.databases {
		if err := j.vacuumDatabase(ctx, db, name); err != nil {
			// Continue with other databases
			j.log.Error().Str("database", name).Err(err).Msg("VACUUM failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Weekly maintenance completed successfully")
	return nil
}

func (j *WeeklyMaintenanceJob) vacuumDatabase(ctx context.Context, db *database.DB, name string) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}

	if _, err := db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := db.GetStats()
	if err != nil {
		return err
	}

	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024
	j.log.Info().
		Str("database", name).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")
	return nil
}
