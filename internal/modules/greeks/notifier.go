package greeks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/events"
)

// Notifier delivers raised alerts to their consumers.
type Notifier interface {
	Notify(ctx context.Context, alert GreeksAlert) error
}

// EventNotifier publishes alerts on the event bus as GREEKS_ALERT_RAISED.
type EventNotifier struct {
	events *events.Manager
}

// NewEventNotifier creates a notifier backed by the event manager.
func NewEventNotifier(manager *events.Manager) *EventNotifier {
	return &EventNotifier{events: manager}
}

// Notify emits the alert.
func (n *EventNotifier) Notify(_ context.Context, alert GreeksAlert) error {
	n.events.EmitTyped("greeks", AlertEventData(alert))
	return nil
}

// AlertEventData converts an alert into its event payload.
func AlertEventData(alert GreeksAlert) *events.GreeksAlertRaisedData {
	data := &events.GreeksAlertRaisedData{
		AlertID:        alert.AlertID,
		AlertType:      string(alert.AlertType),
		Scope:          string(alert.Scope),
		ScopeID:        alert.ScopeID,
		Metric:         string(alert.Metric),
		Level:          alert.Level.String(),
		CurrentValue:   alert.CurrentValue.String(),
		ThresholdValue: alert.ThresholdValue.String(),
		Message:        alert.Message,
		CreatedAt:      alert.CreatedAt,
	}
	if alert.PrevValue != nil {
		data.PrevValue = alert.PrevValue.String()
	}
	if alert.ChangePct != nil {
		data.ChangePct = alert.ChangePct.String()
	}
	return data
}

// LogNotifier writes alerts to the log, at a severity matching the alert level.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "greeks_alerts").Logger()}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, alert GreeksAlert) error {
	var ev *zerolog.Event
	switch alert.Level {
	case LevelHard:
		ev = n.log.Error()
	case LevelCrit, LevelWarn:
		ev = n.log.Warn()
	default:
		ev = n.log.Info()
	}
	ev.Str("alert_id", alert.AlertID).
		Str("alert_type", string(alert.AlertType)).
		Str("scope", string(alert.Scope)).
		Str("scope_id", alert.ScopeID).
		Str("metric", string(alert.Metric)).
		Str("level", alert.Level.String()).
		Str("current", alert.CurrentValue.String()).
		Str("threshold", alert.ThresholdValue.String()).
		Msg(alert.Message)
	return nil
}

// MultiNotifier fans an alert out to every notifier, even when some fail.
type MultiNotifier []Notifier

// Notify delivers to all notifiers and joins their errors.
func (m MultiNotifier) Notify(ctx context.Context, alert GreeksAlert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
