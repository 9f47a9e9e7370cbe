package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// GreeksSnapshotSavedData contains data for GreeksSnapshotSaved events
type GreeksSnapshotSavedData struct {
	Scope          string    `json:"scope"`
	ScopeID        string    `json:"scope_id"`
	SnapshotID     int64     `json:"snapshot_id"`
	DollarDelta    string    `json:"dollar_delta"`
	CoveragePct    string    `json:"coverage_pct"`
	TotalLegsCount int       `json:"total_legs_count"`
	AsOf           time.Time `json:"as_of"`
}

// EventType returns the event type for GreeksSnapshotSavedData
func (d *GreeksSnapshotSavedData) EventType() EventType {
	return GreeksSnapshotSaved
}

// GreeksAlertRaisedData contains data for GreeksAlertRaised events
type GreeksAlertRaisedData struct {
	AlertID        string    `json:"alert_id"`
	AlertType      string    `json:"alert_type"`
	Scope          string    `json:"scope"`
	ScopeID        string    `json:"scope_id"`
	Metric         string    `json:"metric"`
	Level          string    `json:"level"`
	CurrentValue   string    `json:"current_value"`
	ThresholdValue string    `json:"threshold_value"`
	PrevValue      string    `json:"prev_value,omitempty"`
	ChangePct      string    `json:"change_pct,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventType returns the event type for GreeksAlertRaisedData
func (d *GreeksAlertRaisedData) EventType() EventType {
	return GreeksAlertRaised
}

// GreeksAlertAcknowledgedData contains data for GreeksAlertAcknowledged events
type GreeksAlertAcknowledgedData struct {
	AlertID string `json:"alert_id"`
	Actor   string `json:"actor"`
}

// EventType returns the event type for GreeksAlertAcknowledgedData
func (d *GreeksAlertAcknowledgedData) EventType() EventType {
	return GreeksAlertAcknowledged
}

// GreeksCoverageData contains data for coverage and missing-leg events
type GreeksCoverageData struct {
	Type             EventType `json:"-"`
	Scope            string    `json:"scope"`
	ScopeID          string    `json:"scope_id"`
	CoveragePct      string    `json:"coverage_pct"`
	MissingPositions []string  `json:"missing_positions"`
	HighRiskMissing  bool      `json:"high_risk_missing"`
}

// EventType returns the event type for GreeksCoverageData.
// Defaults to GreeksCoverageInsufficient when Type is unset.
func (d *GreeksCoverageData) EventType() EventType {
	if d.Type == "" {
		return GreeksCoverageInsufficient
	}
	return d.Type
}

// GreeksMonitorCycleData contains data for GreeksMonitorCycleCompleted events
type GreeksMonitorCycleData struct {
	Accounts   int   `json:"accounts"`
	Snapshots  int   `json:"snapshots"`
	Alerts     int   `json:"alerts"`
	DurationMs int64 `json:"duration_ms"`
}

// EventType returns the event type for GreeksMonitorCycleData
func (d *GreeksMonitorCycleData) EventType() EventType {
	return GreeksMonitorCycleCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// GetTypedData converts the event's map payload back into its typed form.
// Returns nil for unknown types or payloads that do not decode.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case GreeksSnapshotSaved:
		data = &GreeksSnapshotSavedData{}
	case GreeksAlertRaised:
		data = &GreeksAlertRaisedData{}
	case GreeksAlertAcknowledged:
		data = &GreeksAlertAcknowledgedData{}
	case GreeksCoverageInsufficient, GreeksHighRiskLegsMissing:
		data = &GreeksCoverageData{Type: e.Type}
	case GreeksMonitorCycleCompleted:
		data = &GreeksMonitorCycleData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap converts typed EventData to the bus payload form
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
