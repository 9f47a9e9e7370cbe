package greeks

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType distinguishes level breaches from sudden moves.
type AlertType string

const (
	AlertTypeThreshold AlertType = "THRESHOLD"
	AlertTypeROC       AlertType = "ROC"
)

// GreeksAlert is an emitted risk event. Alerts are never mutated after creation.
type GreeksAlert struct {
	AlertID        string           `json:"alert_id"`
	AlertType      AlertType        `json:"alert_type"`
	Scope          Scope            `json:"scope"`
	ScopeID        string           `json:"scope_id"`
	Metric         RiskMetric       `json:"metric"`
	Level          AlertLevel       `json:"level"`
	CurrentValue   decimal.Decimal  `json:"current_value"`
	ThresholdValue decimal.Decimal  `json:"threshold_value"`
	PrevValue      *decimal.Decimal `json:"prev_value,omitempty"`
	ChangePct      *decimal.Decimal `json:"change_pct,omitempty"`
	Message        string           `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
}

// StoredAlert is an alert as persisted, with its acknowledgement status.
type StoredAlert struct {
	GreeksAlert
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}
