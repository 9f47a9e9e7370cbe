// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/aristath/greekwatch/internal/database"
	"github.com/aristath/greekwatch/internal/reliability"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool
	DBDriver  string // "sqlite" (modernc, default) or "sqlite3" (mattn, cgo)
	Pricing   PricingConfig
	Monitor   MonitorConfig
	Archive   *ArchiveConfig
}

// PricingConfig locates the pricing service
type PricingConfig struct {
	URL            string
	TimeoutSeconds int
	Source         string // Data source its Greeks are attributed to: broker or model
}

// MonitorConfig holds the Greeks monitor's schedule and tuning
type MonitorConfig struct {
	Schedule              string // Cron spec of the monitor cycle
	ROCWindowSeconds      int64
	MaxStalenessSeconds   int
	CacheTTLSeconds       int
	AlertStateTTLSeconds  int
	CleanupSchedule       string // Cron spec of the alert state cleanup
	RetentionDays         int    // Snapshot retention; 0 keeps forever
	RetentionSchedule     string
	ArchiveRetentionDays  int    // Archive object retention; 0 keeps forever
	LimitsFile            string // Optional YAML limits file
	MaintenanceSchedule   string
	WeeklyMaintenanceSpec string
}

// ArchiveConfig holds snapshot archive bucket settings (config package version)
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// ToArchiveConfig converts config.ArchiveConfig to reliability.ArchiveConfig
func (c *ArchiveConfig) ToArchiveConfig() reliability.ArchiveConfig {
	return reliability.ArchiveConfig{
		Bucket:          c.Bucket,
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		Prefix:          c.Prefix,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GREEKWATCH_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("GO_PORT", 8001),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		DBDriver:  getEnv("DB_DRIVER", database.DriverModernc),
		Pricing: PricingConfig{
			URL:            getEnv("PRICING_SERVICE_URL", "http://localhost:9000"),
			TimeoutSeconds: getEnvAsInt("PRICING_TIMEOUT_SECONDS", 10),
			Source:         getEnv("PRICING_SOURCE", "model"),
		},
		Monitor: MonitorConfig{
			Schedule:              getEnv("GREEKS_MONITOR_SCHEDULE", "@every 30s"),
			ROCWindowSeconds:      int64(getEnvAsInt("GREEKS_ROC_WINDOW_SECONDS", 300)),
			MaxStalenessSeconds:   getEnvAsInt("GREEKS_MAX_STALENESS_SECONDS", 900),
			CacheTTLSeconds:       getEnvAsInt("GREEKS_CACHE_TTL_SECONDS", 86400),
			AlertStateTTLSeconds:  getEnvAsInt("GREEKS_ALERT_STATE_TTL_SECONDS", 86400),
			CleanupSchedule:       getEnv("GREEKS_ALERT_CLEANUP_SCHEDULE", "@every 1h"),
			RetentionDays:         getEnvAsInt("GREEKS_SNAPSHOT_RETENTION_DAYS", 30),
			RetentionSchedule:     getEnv("GREEKS_RETENTION_SCHEDULE", "0 30 0 * * *"),
			ArchiveRetentionDays:  getEnvAsInt("ARCHIVE_RETENTION_DAYS", 365),
			LimitsFile:            getEnv("GREEKS_LIMITS_FILE", ""),
			MaintenanceSchedule:   getEnv("DAILY_MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
			WeeklyMaintenanceSpec: getEnv("WEEKLY_MAINTENANCE_SCHEDULE", "0 0 3 * * SUN"),
		},
		Archive: loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT: %d", c.Port)
	}
	if c.DBDriver != database.DriverModernc && c.DBDriver != database.DriverMattn {
		return fmt.Errorf("invalid DB_DRIVER %q: must be %q or %q", c.DBDriver, database.DriverModernc, database.DriverMattn)
	}
	if c.Pricing.URL == "" {
		return fmt.Errorf("PRICING_SERVICE_URL is required")
	}
	if c.Pricing.Source != "model" && c.Pricing.Source != "broker" {
		return fmt.Errorf("invalid PRICING_SOURCE %q: must be model or broker", c.Pricing.Source)
	}
	if c.Monitor.ROCWindowSeconds <= 0 {
		return fmt.Errorf("GREEKS_ROC_WINDOW_SECONDS must be positive")
	}
	if c.Monitor.RetentionDays < 0 || c.Monitor.ArchiveRetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"GREEKS_MONITOR_SCHEDULE":       c.Monitor.Schedule,
		"GREEKS_ALERT_CLEANUP_SCHEDULE": c.Monitor.CleanupSchedule,
		"GREEKS_RETENTION_SCHEDULE":     c.Monitor.RetentionSchedule,
		"DAILY_MAINTENANCE_SCHEDULE":    c.Monitor.MaintenanceSchedule,
		"WEEKLY_MAINTENANCE_SCHEDULE":   c.Monitor.WeeklyMaintenanceSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	return nil
}

// Durations derived from the monitor settings
func (m MonitorConfig) MaxStaleness() time.Duration {
	return time.Duration(m.MaxStalenessSeconds) * time.Second
}

func (m MonitorConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func (m MonitorConfig) AlertStateTTL() time.Duration {
	return time.Duration(m.AlertStateTTLSeconds) * time.Second
}

// DatabasePath returns the file a named database lives in
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// loadArchiveConfig returns nil when no bucket is configured
func loadArchiveConfig() *ArchiveConfig {
	bucket := getEnv("ARCHIVE_S3_BUCKET", "")
	if bucket == "" {
		return nil
	}
	return &ArchiveConfig{
		Bucket:          bucket,
		Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
		Region:          getEnv("ARCHIVE_S3_REGION", "auto"),
		AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("ARCHIVE_S3_PREFIX", ""),
	}
}
