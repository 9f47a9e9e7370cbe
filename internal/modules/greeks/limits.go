package greeks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ThresholdDirection says how a raw metric value is compared to its limit.
type ThresholdDirection string

const (
	DirectionAbs ThresholdDirection = "ABS" // |raw| against the limit
	DirectionMax ThresholdDirection = "MAX" // raw against an upper bound
	DirectionMin ThresholdDirection = "MIN" // -raw, so raw breaches a lower bound
)

// Valid reports whether d is a known direction.
func (d ThresholdDirection) Valid() bool {
	return d == DirectionAbs || d == DirectionMax || d == DirectionMin
}

// Effective maps a raw metric value onto the scale thresholds are compared on.
func (d ThresholdDirection) Effective(raw decimal.Decimal) decimal.Decimal {
	switch d {
	case DirectionAbs:
		return raw.Abs()
	case DirectionMin:
		return raw.Neg()
	default:
		return raw
	}
}

// AlertLevel is an ordered severity.
type AlertLevel int

const (
	LevelNormal AlertLevel = iota
	LevelWarn
	LevelCrit
	LevelHard
)

var levelNames = map[AlertLevel]string{
	LevelNormal: "NORMAL",
	LevelWarn:   "WARN",
	LevelCrit:   "CRIT",
	LevelHard:   "HARD",
}

// AlertingLevels lists the levels above NORMAL, lowest first.
var AlertingLevels = []AlertLevel{LevelWarn, LevelCrit, LevelHard}

func (l AlertLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AlertLevel(%d)", int(l))
}

// ParseAlertLevel parses a level name such as "warn" or "CRIT".
func ParseAlertLevel(s string) (AlertLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown alert level: %q", s)
}

// MarshalJSON encodes the level by name.
func (l AlertLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *AlertLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAlertLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// DefaultDedupeWindowSeconds are the per-level re-alert windows.
func DefaultDedupeWindowSeconds() map[AlertLevel]int64 {
	return map[AlertLevel]int64{
		LevelWarn: 900,
		LevelCrit: 300,
		LevelHard: 60,
	}
}

// Threshold defaults. An unset recovery percentage is its entry percentage
// minus the level's offset, which forms the hysteresis band.
var (
	DefaultWarnPct           = decimal.RequireFromString("0.80")
	DefaultCritPct           = decimal.RequireFromString("1.00")
	DefaultHardPct           = decimal.RequireFromString("1.20")
	DefaultWarnRecoverOffset = decimal.RequireFromString("0.05")
	DefaultCritRecoverOffset = decimal.RequireFromString("0.10")
	DefaultHardRecoverOffset = decimal.RequireFromString("0.10")
	DefaultRateChangePct     = decimal.RequireFromString("0.20")
)

// GreeksThresholdConfig is the limit definition for one metric.
type GreeksThresholdConfig struct {
	Metric         RiskMetric         `json:"metric"`
	Direction      ThresholdDirection `json:"direction"`
	Limit          decimal.Decimal    `json:"limit"`
	WarnPct        decimal.Decimal    `json:"warn_pct"`
	CritPct        decimal.Decimal    `json:"crit_pct"`
	HardPct        decimal.Decimal    `json:"hard_pct"`
	WarnRecoverPct decimal.Decimal    `json:"warn_recover_pct"`
	CritRecoverPct decimal.Decimal    `json:"crit_recover_pct"`
	HardRecoverPct decimal.Decimal    `json:"hard_recover_pct"`
	RateChangePct  decimal.Decimal    `json:"rate_change_pct"`
	RateChangeAbs  decimal.Decimal    `json:"rate_change_abs"`
}

type thresholdBuilder struct {
	cfg GreeksThresholdConfig
	// recovery percentages set explicitly, by level
	recoverSet map[AlertLevel]bool
}

// ThresholdOption customises a threshold config.
type ThresholdOption func(*thresholdBuilder)

// WithLevels sets the entry percentages of WARN, CRIT and HARD.
func WithLevels(warn, crit, hard decimal.Decimal) ThresholdOption {
	return func(b *thresholdBuilder) {
		b.cfg.WarnPct, b.cfg.CritPct, b.cfg.HardPct = warn, crit, hard
	}
}

// WithRecovery sets the recovery percentages of WARN, CRIT and HARD.
func WithRecovery(warn, crit, hard decimal.Decimal) ThresholdOption {
	return func(b *thresholdBuilder) {
		WithLevelRecovery(LevelWarn, warn)(b)
		WithLevelRecovery(LevelCrit, crit)(b)
		WithLevelRecovery(LevelHard, hard)(b)
	}
}

// WithLevelRecovery sets the recovery percentage of a single level.
// Levels other than WARN, CRIT and HARD are ignored.
func WithLevelRecovery(level AlertLevel, pct decimal.Decimal) ThresholdOption {
	return func(b *thresholdBuilder) {
		switch level {
		case LevelWarn:
			b.cfg.WarnRecoverPct = pct
		case LevelCrit:
			b.cfg.CritRecoverPct = pct
		case LevelHard:
			b.cfg.HardRecoverPct = pct
		default:
			return
		}
		b.recoverSet[level] = true
	}
}

// WithRateChange sets the rate-of-change triggers. A zero value disables that test.
func WithRateChange(pct, abs decimal.Decimal) ThresholdOption {
	return func(b *thresholdBuilder) {
		b.cfg.RateChangePct, b.cfg.RateChangeAbs = pct, abs
	}
}

// NewThresholdConfig builds a validated threshold config with defaults applied.
// Recovery percentages not set by an option follow the final entry percentages.
func NewThresholdConfig(metric RiskMetric, direction ThresholdDirection, limit decimal.Decimal, opts ...ThresholdOption) (GreeksThresholdConfig, error) {
	b := &thresholdBuilder{
		cfg: GreeksThresholdConfig{
			Metric:        metric,
			Direction:     direction,
			Limit:         limit,
			WarnPct:       DefaultWarnPct,
			CritPct:       DefaultCritPct,
			HardPct:       DefaultHardPct,
			RateChangePct: DefaultRateChangePct,
			RateChangeAbs: decimal.Zero,
		},
		recoverSet: make(map[AlertLevel]bool, 3),
	}
	for _, opt := range opts {
		opt(b)
	}

	cfg := b.cfg
	if !b.recoverSet[LevelWarn] {
		cfg.WarnRecoverPct = cfg.WarnPct.Sub(DefaultWarnRecoverOffset)
	}
	if !b.recoverSet[LevelCrit] {
		cfg.CritRecoverPct = cfg.CritPct.Sub(DefaultCritRecoverOffset)
	}
	if !b.recoverSet[LevelHard] {
		cfg.HardRecoverPct = cfg.HardPct.Sub(DefaultHardRecoverOffset)
	}

	if err := cfg.Validate(); err != nil {
		return GreeksThresholdConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configs the alert engine cannot evaluate.
func (c GreeksThresholdConfig) Validate() error {
	if !c.Metric.Valid() {
		return fmt.Errorf("threshold: unknown metric %q", c.Metric)
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("threshold %s: unknown direction %q", c.Metric, c.Direction)
	}
	if !c.Limit.IsPositive() {
		return fmt.Errorf("threshold %s: limit must be positive, got %s", c.Metric, c.Limit)
	}
	if !c.WarnPct.IsPositive() || !c.WarnPct.LessThan(c.CritPct) || !c.CritPct.LessThan(c.HardPct) {
		return fmt.Errorf("threshold %s: entry percentages must satisfy 0 < warn < crit < hard (got %s, %s, %s)",
			c.Metric, c.WarnPct, c.CritPct, c.HardPct)
	}
	pairs := []struct {
		level            AlertLevel
		entry, recoverAt decimal.Decimal
	}{
		{LevelWarn, c.WarnPct, c.WarnRecoverPct},
		{LevelCrit, c.CritPct, c.CritRecoverPct},
		{LevelHard, c.HardPct, c.HardRecoverPct},
	}
	for _, p := range pairs {
		if p.recoverAt.IsNegative() {
			return fmt.Errorf("threshold %s: %s recover pct must not be negative", c.Metric, p.level)
		}
		if !p.recoverAt.LessThan(p.entry) {
			return fmt.Errorf("threshold %s: %s recover pct %s must be below entry pct %s",
				c.Metric, p.level, p.recoverAt, p.entry)
		}
	}
	if c.RateChangePct.IsNegative() || c.RateChangeAbs.IsNegative() {
		return fmt.Errorf("threshold %s: rate-of-change parameters must not be negative", c.Metric)
	}
	return nil
}

// EntryThreshold is the effective value at which level is entered.
func (c GreeksThresholdConfig) EntryThreshold(level AlertLevel) decimal.Decimal {
	switch level {
	case LevelWarn:
		return c.Limit.Mul(c.WarnPct)
	case LevelCrit:
		return c.Limit.Mul(c.CritPct)
	case LevelHard:
		return c.Limit.Mul(c.HardPct)
	}
	return decimal.Zero
}

// RecoveryThreshold is the effective value below which level is left.
func (c GreeksThresholdConfig) RecoveryThreshold(level AlertLevel) decimal.Decimal {
	switch level {
	case LevelWarn:
		return c.Limit.Mul(c.WarnRecoverPct)
	case LevelCrit:
		return c.Limit.Mul(c.CritRecoverPct)
	case LevelHard:
		return c.Limit.Mul(c.HardRecoverPct)
	}
	return decimal.Zero
}

// GreeksLimitsConfig holds every threshold configured for one scope.
type GreeksLimitsConfig struct {
	Scope                      Scope                                `json:"scope"`
	ScopeID                    string                               `json:"scope_id"`
	Thresholds                 map[RiskMetric]GreeksThresholdConfig `json:"thresholds"`
	DedupeWindowSecondsByLevel map[AlertLevel]int64                 `json:"dedupe_window_seconds_by_level"`
}

// NewLimitsConfig builds a validated limits config. Duplicate metrics are rejected.
func NewLimitsConfig(scope Scope, scopeID string, thresholds ...GreeksThresholdConfig) (*GreeksLimitsConfig, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("limits: unknown scope %q", scope)
	}
	if strings.TrimSpace(scopeID) == "" {
		return nil, errors.New("limits: scope id is required")
	}
	cfg := &GreeksLimitsConfig{
		Scope:                      scope,
		ScopeID:                    scopeID,
		Thresholds:                 make(map[RiskMetric]GreeksThresholdConfig, len(thresholds)),
		DedupeWindowSecondsByLevel: DefaultDedupeWindowSeconds(),
	}
	for _, t := range thresholds {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := cfg.Thresholds[t.Metric]; dup {
			return nil, fmt.Errorf("limits: duplicate threshold for metric %s", t.Metric)
		}
		cfg.Thresholds[t.Metric] = t
	}
	return cfg, nil
}

// SetDedupeWindow overrides the re-alert window of one level.
func (c *GreeksLimitsConfig) SetDedupeWindow(level AlertLevel, seconds int64) error {
	if level == LevelNormal {
		return errors.New("limits: NORMAL has no dedupe window")
	}
	if seconds < 0 {
		return fmt.Errorf("limits: dedupe window for %s must not be negative", level)
	}
	c.DedupeWindowSecondsByLevel[level] = seconds
	return nil
}

// Threshold returns the threshold of a metric, if configured.
func (c *GreeksLimitsConfig) Threshold(m RiskMetric) (GreeksThresholdConfig, bool) {
	t, ok := c.Thresholds[m]
	return t, ok
}

// DedupeWindowSeconds returns the window of a level, falling back to the defaults.
func (c *GreeksLimitsConfig) DedupeWindowSeconds(level AlertLevel) int64 {
	if secs, ok := c.DedupeWindowSecondsByLevel[level]; ok {
		return secs
	}
	return DefaultDedupeWindowSeconds()[level]
}

// ForScope returns a copy of the config bound to another scope id.
func (c *GreeksLimitsConfig) ForScope(scopeID string) *GreeksLimitsConfig {
	out := &GreeksLimitsConfig{
		Scope:                      c.Scope,
		ScopeID:                    scopeID,
		Thresholds:                 make(map[RiskMetric]GreeksThresholdConfig, len(c.Thresholds)),
		DedupeWindowSecondsByLevel: make(map[AlertLevel]int64, len(c.DedupeWindowSecondsByLevel)),
	}
	for m, t := range c.Thresholds {
		out.Thresholds[m] = t
	}
	for l, s := range c.DedupeWindowSecondsByLevel {
		out.DedupeWindowSecondsByLevel[l] = s
	}
	return out
}

// WildcardScopeID matches every scope id of a scope in a LimitsBook.
const WildcardScopeID = "*"

type limitsKey struct {
	scope   Scope
	scopeID string
}

// LimitsBook resolves the limits config for a scope.
// Lookup order: exact scope id, the scope's wildcard, then the fallback.
type LimitsBook struct {
	configs  map[limitsKey]*GreeksLimitsConfig
	fallback map[Scope]*GreeksLimitsConfig
}

// NewLimitsBook creates a book. fallback may be nil.
func NewLimitsBook(fallback map[Scope]*GreeksLimitsConfig) *LimitsBook {
	if fallback == nil {
		fallback = make(map[Scope]*GreeksLimitsConfig)
	}
	return &LimitsBook{
		configs:  make(map[limitsKey]*GreeksLimitsConfig),
		fallback: fallback,
	}
}

// Add registers a config, replacing any previous one for the same scope and id.
func (b *LimitsBook) Add(cfg *GreeksLimitsConfig) {
	b.configs[limitsKey{cfg.Scope, cfg.ScopeID}] = cfg
}

// Resolve returns the config for a scope id, or false if none applies.
func (b *LimitsBook) Resolve(scope Scope, scopeID string) (*GreeksLimitsConfig, bool) {
	if cfg, ok := b.configs[limitsKey{scope, scopeID}]; ok {
		return cfg, true
	}
	if cfg, ok := b.configs[limitsKey{scope, WildcardScopeID}]; ok {
		return cfg.ForScope(scopeID), true
	}
	if cfg, ok := b.fallback[scope]; ok && cfg != nil {
		return cfg.ForScope(scopeID), true
	}
	return nil, false
}

// DefaultLimits returns the built-in limits applied when no limits file is configured.
func DefaultLimits(scope Scope) *GreeksLimitsConfig {
	limits := []struct {
		metric    RiskMetric
		direction ThresholdDirection
		limit     int64
	}{
		{MetricDelta, DirectionAbs, 50000},
		{MetricGamma, DirectionAbs, 2000000},
		{MetricVega, DirectionAbs, 20000},
		{MetricTheta, DirectionMin, 5000},
	}
	thresholds := make([]GreeksThresholdConfig, 0, len(limits))
	for _, l := range limits {
		t, err := NewThresholdConfig(l.metric, l.direction, decimal.NewFromInt(l.limit))
		if err != nil {
			panic(err)
		}
		thresholds = append(thresholds, t)
	}
	cfg, err := NewLimitsConfig(scope, WildcardScopeID, thresholds...)
	if err != nil {
		panic(err)
	}
	return cfg
}
