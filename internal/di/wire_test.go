package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/greekwatch/internal/config"
	"github.com/aristath/greekwatch/internal/modules/greeks"
)

func testConfig(t *testing.T, pricingURL string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Port:    8001,
		Pricing: config.PricingConfig{URL: pricingURL, TimeoutSeconds: 2, Source: "model"},
		Monitor: config.MonitorConfig{
			Schedule:              "@every 30s",
			ROCWindowSeconds:      300,
			MaxStalenessSeconds:   900,
			CacheTTLSeconds:       86400,
			AlertStateTTLSeconds:  86400,
			CleanupSchedule:       "@every 1h",
			RetentionDays:         30,
			RetentionSchedule:     "0 30 0 * * *",
			ArchiveRetentionDays:  365,
			MaintenanceSchedule:   "0 0 2 * * *",
			WeeklyMaintenanceSpec: "0 0 3 * * SUN",
		},
	}
}

func pricingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"greeks": {"p1": {"delta": 0.5, "gamma": 0.02, "vega": 0.1,
			"theta": -0.04, "implied_volatility": 0.3, "underlying_price": 100}}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWire(t *testing.T) {
	cfg := testConfig(t, pricingServer(t).URL)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	t.Cleanup(container.Close)

	assert.NotNil(t, container.Repository)
	assert.NotNil(t, container.Positions)
	assert.NotNil(t, container.Calculator)
	assert.NotNil(t, container.AlertEngine)
	assert.NotNil(t, container.Limits)
	assert.NotNil(t, container.Archiver)
	assert.Nil(t, container.ArchiveClient)

	require.NotNil(t, container.Jobs)
	assert.Len(t, container.Jobs.All(), 5)
	assert.Equal(t, 5, container.Scheduler.JobCount())

	ctx := context.Background()
	require.NoError(t, container.Positions.Upsert(ctx, "acct-1", greeks.PositionInfo{
		PositionID:       "p1",
		Symbol:           "AAPL_C100",
		UnderlyingSymbol: "AAPL",
		Quantity:         decimal.NewFromInt(10),
		Multiplier:       decimal.NewFromInt(100),
		OptionType:       greeks.OptionCall,
		Strike:           decimal.NewFromInt(100),
		Expiry:           time.Now().AddDate(0, 3, 0),
		StrategyID:       "covered-calls",
	}))

	result, err := container.Jobs.GreeksMonitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accounts)
	assert.Equal(t, 2, result.Snapshots)

	latest, err := container.Repository.GetLatestSnapshot(ctx, greeks.ScopeAccount, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.DollarDelta.Equal(decimal.NewFromInt(50000)), latest.DollarDelta.String())

	// Live quotes are written through to the cache
	cached, err := container.Cache.FetchGreeks(ctx, []greeks.PositionInfo{{PositionID: "p1"}})
	require.NoError(t, err)
	assert.Contains(t, cached, "p1")
}

func TestWire_WithArchiveBucket(t *testing.T) {
	cfg := testConfig(t, "http://localhost:9000")
	cfg.Archive = &config.ArchiveConfig{
		Bucket:          "greeks-archive",
		Endpoint:        "http://127.0.0.1:9900",
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Prefix:          "snapshots/",
	}

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)
	assert.NotNil(t, container.ArchiveClient)
}

func TestWire_InvalidLimitsFile(t *testing.T) {
	cfg := testConfig(t, "http://localhost:9000")
	cfg.Monitor.LimitsFile = "/does/not/exist.yaml"

	container, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, container)
	assert.Contains(t, err.Error(), "failed to load limits")
}

func TestRegisterJobs_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t, "http://localhost:9000")
	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)
	require.NoError(t, InitializeServices(container, cfg, zerolog.Nop()))

	cfg.Monitor.RetentionSchedule = "nightly"
	_, err = RegisterJobs(container, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot_retention")

	_, err = RegisterJobs(nil, cfg, zerolog.Nop())
	assert.Error(t, err)
}
