package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

// LimitsFile is the YAML document read from GREEKS_LIMITS_FILE.
//
//	limits:
//	  - scope: ACCOUNT
//	    scope_id: "*"
//	    dedupe_window_seconds: {WARN: 900, CRIT: 300, HARD: 60}
//	    thresholds:
//	      - metric: delta
//	        direction: ABS
//	        limit: "50000"
//	        rate_change_pct: "0.20"
type LimitsFile struct {
	Limits []LimitsEntry `yaml:"limits"`
}

// LimitsEntry configures one scope, or every id of a scope with scope_id "*".
type LimitsEntry struct {
	Scope               string           `yaml:"scope"`
	ScopeID             string           `yaml:"scope_id"`
	DedupeWindowSeconds map[string]int64 `yaml:"dedupe_window_seconds,omitempty"`
	Thresholds          []ThresholdEntry `yaml:"thresholds"`
}

// ThresholdEntry is one metric limit. Empty percentages take the defaults.
// Decimal values are strings so that no precision is lost.
type ThresholdEntry struct {
	Metric         string `yaml:"metric"`
	Direction      string `yaml:"direction"`
	Limit          string `yaml:"limit"`
	WarnPct        string `yaml:"warn_pct,omitempty"`
	CritPct        string `yaml:"crit_pct,omitempty"`
	HardPct        string `yaml:"hard_pct,omitempty"`
	WarnRecoverPct string `yaml:"warn_recover_pct,omitempty"`
	CritRecoverPct string `yaml:"crit_recover_pct,omitempty"`
	HardRecoverPct string `yaml:"hard_recover_pct,omitempty"`
	RateChangePct  string `yaml:"rate_change_pct,omitempty"`
	RateChangeAbs  string `yaml:"rate_change_abs,omitempty"`
}

// DefaultLimitsBook resolves every scope to the built-in limits.
func DefaultLimitsBook() *greeks.LimitsBook {
	return greeks.NewLimitsBook(map[greeks.Scope]*greeks.GreeksLimitsConfig{
		greeks.ScopeAccount:  greeks.DefaultLimits(greeks.ScopeAccount),
		greeks.ScopeStrategy: greeks.DefaultLimits(greeks.ScopeStrategy),
	})
}

// LoadLimits reads a limits file. An empty path yields the built-in limits.
// Scopes the file does not mention keep resolving to the built-in limits.
func LoadLimits(path string) (*greeks.LimitsBook, error) {
	if path == "" {
		return DefaultLimitsBook(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	return ParseLimits(data)
}

// ParseLimits builds a limits book from a YAML document.
func ParseLimits(data []byte) (*greeks.LimitsBook, error) {
	var file LimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}

	book := DefaultLimitsBook()
	seen := make(map[string]bool, len(file.Limits))
	for i, entry := range file.Limits {
		cfg, err := entry.toLimitsConfig()
		if err != nil {
			return nil, fmt.Errorf("limits[%d]: %w", i, err)
		}
		key := string(cfg.Scope) + "/" + cfg.ScopeID
		if seen[key] {
			return nil, fmt.Errorf("limits[%d]: duplicate entry for %s", i, key)
		}
		seen[key] = true
		book.Add(cfg)
	}
	return book, nil
}

func (e LimitsEntry) toLimitsConfig() (*greeks.GreeksLimitsConfig, error) {
	scope, err := greeks.ParseScope(e.Scope)
	if err != nil {
		return nil, err
	}

	thresholds := make([]greeks.GreeksThresholdConfig, 0, len(e.Thresholds))
	for _, t := range e.Thresholds {
		cfg, err := t.toThresholdConfig()
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, cfg)
	}

	cfg, err := greeks.NewLimitsConfig(scope, e.ScopeID, thresholds...)
	if err != nil {
		return nil, err
	}
	for name, seconds := range e.DedupeWindowSeconds {
		level, err := greeks.ParseAlertLevel(name)
		if err != nil {
			return nil, err
		}
		if err := cfg.SetDedupeWindow(level, seconds); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (t ThresholdEntry) toThresholdConfig() (greeks.GreeksThresholdConfig, error) {
	metric, err := greeks.ParseRiskMetric(t.Metric)
	if err != nil {
		return greeks.GreeksThresholdConfig{}, err
	}
	direction := greeks.ThresholdDirection(strings.ToUpper(strings.TrimSpace(t.Direction)))
	if direction == "" {
		direction = greeks.DirectionAbs
	}
	limit, err := decimal.NewFromString(t.Limit)
	if err != nil {
		return greeks.GreeksThresholdConfig{}, fmt.Errorf("threshold %s: invalid limit %q", metric, t.Limit)
	}

	fields := []struct {
		name string
		raw  string
		def  decimal.Decimal
	}{
		{"warn_pct", t.WarnPct, greeks.DefaultWarnPct},
		{"crit_pct", t.CritPct, greeks.DefaultCritPct},
		{"hard_pct", t.HardPct, greeks.DefaultHardPct},
		{"rate_change_pct", t.RateChangePct, greeks.DefaultRateChangePct},
		{"rate_change_abs", t.RateChangeAbs, decimal.Zero},
	}
	v := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		if f.raw == "" {
			v[i] = f.def
			continue
		}
		parsed, err := decimal.NewFromString(f.raw)
		if err != nil {
			return greeks.GreeksThresholdConfig{}, fmt.Errorf("threshold %s: invalid %s %q", metric, f.name, f.raw)
		}
		v[i] = parsed
	}

	opts := []greeks.ThresholdOption{
		greeks.WithLevels(v[0], v[1], v[2]),
		greeks.WithRateChange(v[3], v[4]),
	}
	// Unset recovery percentages are derived from the entry percentages
	recoveries := []struct {
		name  string
		raw   string
		level greeks.AlertLevel
	}{
		{"warn_recover_pct", t.WarnRecoverPct, greeks.LevelWarn},
		{"crit_recover_pct", t.CritRecoverPct, greeks.LevelCrit},
		{"hard_recover_pct", t.HardRecoverPct, greeks.LevelHard},
	}
	for _, r := range recoveries {
		if r.raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(r.raw)
		if err != nil {
			return greeks.GreeksThresholdConfig{}, fmt.Errorf("threshold %s: invalid %s %q", metric, r.name, r.raw)
		}
		opts = append(opts, greeks.WithLevelRecovery(r.level, parsed))
	}

	return greeks.NewThresholdConfig(metric, direction, limit, opts...)
}
