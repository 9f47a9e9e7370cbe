// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Greeks monitoring
	GreeksSnapshotSaved         EventType = "GREEKS_SNAPSHOT_SAVED"
	GreeksAlertRaised           EventType = "GREEKS_ALERT_RAISED"
	GreeksAlertAcknowledged     EventType = "GREEKS_ALERT_ACKNOWLEDGED"
	GreeksCoverageInsufficient  EventType = "GREEKS_COVERAGE_INSUFFICIENT"
	GreeksHighRiskLegsMissing   EventType = "GREEKS_HIGH_RISK_LEGS_MISSING"
	GreeksMonitorCycleCompleted EventType = "GREEKS_MONITOR_CYCLE_COMPLETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
