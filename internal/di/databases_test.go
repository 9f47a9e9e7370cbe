package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/database"
)

func TestInitializeDatabases(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{DataDir: tmpDir}

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	t.Cleanup(container.Close)

	assert.NotNil(t, container.GreeksDB)
	assert.NotNil(t, container.CacheDB)
	assert.Len(t, container.Databases(), 2)

	assert.FileExists(t, filepath.Join(tmpDir, "greeks.db"))
	assert.FileExists(t, filepath.Join(tmpDir, "cache.db"))

	// Schemas are applied
	var count int
	err = container.GreeksDB.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'greeks_snapshots'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInitializeDatabases_MattnDriver(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir(), DBDriver: database.DriverMattn}

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)
	assert.NoError(t, container.GreeksDB.HealthCheck(context.Background()))
}

func TestInitializeDatabases_Errors(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o644))

	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"data dir is a file", &config.Config{DataDir: notADir}},
		{"unsupported driver", &config.Config{DataDir: t.TempDir(), DBDriver: "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, err := InitializeDatabases(tt.cfg, zerolog.Nop())
			assert.Error(t, err)
			assert.Nil(t, container)
		})
	}
}
