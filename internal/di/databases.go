package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/database"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	// 1. greeks.db - Snapshots, alerts and open option positions
	greeksDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(database.NameGreeks),
		Profile: database.ProfileStandard,
		Name:    database.NameGreeks,
		Driver:  cfg.DBDriver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize greeks database: %w", err)
	}
	container.GreeksDB = greeksDB

	// 2. cache.db - Last-known Greeks per position
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(database.NameCache),
		Profile: database.ProfileCache, // Maximum speed for ephemeral data
		Name:    database.NameCache,
		Driver:  cfg.DBDriver,
	})
	if err != nil {
		greeksDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range []*database.DB{greeksDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("driver", driverName(cfg.DBDriver)).Msg("All databases initialized and schemas applied")

	return container, nil
}

func driverName(driver string) string {
	if driver == "" {
		return database.DriverModernc
	}
	return driver
}
