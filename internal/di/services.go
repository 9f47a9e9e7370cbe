package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/clients/pricing"
	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/metrics"
	"github.com/aristath/greekwatch/internal/modules/greeks"
	"github.com/aristath/greekwatch/internal/modules/greeks/alerts"
	"github.com/aristath/greekwatch/internal/reliability"
)

const archiveSetupTimeout = 30 * time.Second

// InitializeServices builds repositories and services on top of the databases
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.GreeksDB == nil || container.CacheDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	// Events and metrics
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = metrics.New()

	// Repositories
	container.Repository = greeks.NewRepository(container.GreeksDB.Conn(), log)
	container.Positions = greeks.NewPositionRepository(container.GreeksDB.Conn(), log)
	container.Cache = greeks.NewCacheProvider(container.CacheDB.Conn(), cfg.Monitor.CacheTTL(), log)

	// Greeks calculation: live pricing, written through to the cache, which
	// also serves as the fallback when the pricing service fails
	container.PricingClient = pricing.NewClient(
		cfg.Pricing.URL,
		time.Duration(cfg.Pricing.TimeoutSeconds)*time.Second,
		greeks.GreeksDataSource(cfg.Pricing.Source),
		log,
	)
	container.Calculator = greeks.NewCalculator(
		container.Cache.WriteThrough(container.PricingClient),
		container.Cache,
		log,
		greeks.WithMaxStaleness(cfg.Monitor.MaxStaleness()),
	)

	// Alerting
	limits, err := config.LoadLimits(cfg.Monitor.LimitsFile)
	if err != nil {
		return fmt.Errorf("failed to load limits: %w", err)
	}
	container.Limits = limits
	container.AlertEngine = alerts.NewEngine(log, alerts.WithStateTTL(int64(cfg.Monitor.AlertStateTTLSeconds)))
	container.Notifier = greeks.MultiNotifier{
		greeks.NewEventNotifier(container.EventManager),
		greeks.NewLogNotifier(log),
	}

	// Snapshot archive
	prefix := ""
	if cfg.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveSetupTimeout)
		defer cancel()

		archiveCfg := cfg.Archive.ToArchiveConfig()
		client, err := reliability.NewS3Client(ctx, archiveCfg, log)
		if err != nil {
			return fmt.Errorf("failed to create archive client: %w", err)
		}
		container.ArchiveClient = client
		prefix = archiveCfg.Prefix
	}
	if container.ArchiveClient != nil {
		container.Archiver = reliability.NewSnapshotArchiver(container.Repository, container.ArchiveClient, prefix, log)
	} else {
		container.Archiver = reliability.NewSnapshotArchiver(container.Repository, nil, prefix, log)
		log.Info().Msg("No archive bucket configured, expired snapshots will be deleted")
	}

	log.Info().Msg("Services initialized")
	return nil
}
