// Package handlers provides HTTP handlers for Greeks snapshots and alerts.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/modules/greeks"
)

// Store is the read and acknowledge side of the Greeks repository.
type Store interface {
	GetLatestSnapshot(ctx context.Context, scope greeks.Scope, scopeID string) (*greeks.AggregatedGreeks, error)
	GetHistory(ctx context.Context, scope greeks.Scope, scopeID string, start, end time.Time, interval time.Duration) ([]greeks.HistoryPoint, error)
	GetAlert(ctx context.Context, alertID string) (*greeks.StoredAlert, error)
	GetUnacknowledgedAlerts(ctx context.Context, scope greeks.Scope, scopeID string) ([]greeks.StoredAlert, error)
	AcknowledgeAlert(ctx context.Context, alertID, actor string) (bool, error)
}

const (
	defaultHistoryRange = 24 * time.Hour
	maxHistoryInterval  = 366 * 24 * time.Hour
)

// Handler handles Greeks HTTP requests
type Handler struct {
	store        Store
	eventManager *events.Manager
	now          func() time.Time
	log          zerolog.Logger
}

// NewHandler creates a new Greeks handler
func NewHandler(store Store, eventManager *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		store:        store,
		eventManager: eventManager,
		now:          time.Now,
		log:          log.With().Str("handler", "greeks").Logger(),
	}
}

// HandleGetLatest handles GET /api/greeks/{scope}/{scopeID}/latest
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request, rawScope, scopeID string) {
	scope, err := greeks.ParseScope(rawScope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := h.store.GetLatestSnapshot(r.Context(), scope, scopeID)
	if err != nil {
		h.log.Error().Err(err).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("Failed to get latest snapshot")
		http.Error(w, "Failed to get latest snapshot", http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		http.Error(w, "No snapshot found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"snapshot":               snapshot,
			"coverage_pct":           snapshot.CoveragePct(),
			"is_coverage_sufficient": snapshot.IsCoverageSufficient(),
			"staleness_seconds":      snapshot.StalenessSeconds(h.now()),
		},
		"metadata": h.metadata(),
	})
}

// HandleGetHistory handles GET /api/greeks/{scope}/{scopeID}/history
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request, rawScope, scopeID string) {
	scope, start, end, interval, err := h.parseHistoryQuery(r, rawScope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.GetHistory(r.Context(), scope, scopeID, start, end, interval)
	if err != nil {
		h.log.Error().Err(err).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("Failed to get history")
		http.Error(w, "Failed to get history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"scope":    scope,
			"scope_id": scopeID,
			"points":   points,
			"count":    len(points),
		},
		"metadata": map[string]interface{}{
			"timestamp":        h.now().Format(time.RFC3339),
			"start":            start.Format(time.RFC3339),
			"end":              end.Format(time.RFC3339),
			"interval_seconds": int64(interval / time.Second),
		},
	})
}

// HandleGetHistorySummary handles GET /api/greeks/{scope}/{scopeID}/history/summary
func (h *Handler) HandleGetHistorySummary(w http.ResponseWriter, r *http.Request, rawScope, scopeID string) {
	scope, start, end, interval, err := h.parseHistoryQuery(r, rawScope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	metric := greeks.MetricDelta
	if m := r.URL.Query().Get("metric"); m != "" {
		if metric, err = greeks.ParseRiskMetric(m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	emaPeriod := 0
	if s := r.URL.Query().Get("ema"); s != "" {
		emaPeriod, err = strconv.Atoi(s)
		if err != nil || emaPeriod < 0 {
			http.Error(w, "Invalid ema period", http.StatusBadRequest)
			return
		}
	}

	points, err := h.store.GetHistory(r.Context(), scope, scopeID, start, end, interval)
	if err != nil {
		h.log.Error().Err(err).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("Failed to get history")
		http.Error(w, "Failed to get history", http.StatusInternalServerError)
		return
	}

	summary, err := greeks.SummarizeHistory(points, metric, emaPeriod)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"scope":    scope,
			"scope_id": scopeID,
			"metric":   metric,
			"summary":  summary,
		},
		"metadata": h.metadata(),
	})
}

// HandleGetAlerts handles GET /api/greeks/alerts
func (h *Handler) HandleGetAlerts(w http.ResponseWriter, r *http.Request) {
	var scope greeks.Scope
	if s := r.URL.Query().Get("scope"); s != "" {
		parsed, err := greeks.ParseScope(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = parsed
	}
	scopeID := r.URL.Query().Get("scope_id")

	alerts, err := h.store.GetUnacknowledgedAlerts(r.Context(), scope, scopeID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get alerts")
		http.Error(w, "Failed to get alerts", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"alerts": alerts,
			"count":  len(alerts),
		},
		"metadata": h.metadata(),
	})
}

type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

// HandleAcknowledgeAlert handles POST /api/greeks/alerts/{alertID}/ack
func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Actor = strings.TrimSpace(req.Actor)
	if req.Actor == "" {
		http.Error(w, "actor is required", http.StatusBadRequest)
		return
	}

	found, err := h.store.AcknowledgeAlert(r.Context(), alertID, req.Actor)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", alertID).Msg("Failed to acknowledge alert")
		http.Error(w, "Failed to acknowledge alert", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	alert, err := h.store.GetAlert(r.Context(), alertID)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", alertID).Msg("Failed to reload alert")
		http.Error(w, "Failed to reload alert", http.StatusInternalServerError)
		return
	}

	if h.eventManager != nil {
		h.eventManager.EmitTyped("greeks", &events.GreeksAlertAcknowledgedData{
			AlertID: alertID,
			Actor:   req.Actor,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"acknowledged": true,
			"alert":        alert,
		},
		"metadata": h.metadata(),
	})
}

// parseHistoryQuery reads start, end and interval. The range defaults to the
// last 24 hours; times are RFC3339 or Unix seconds, interval is in seconds
// and at most 366 days.
func (h *Handler) parseHistoryQuery(r *http.Request, rawScope string) (greeks.Scope, time.Time, time.Time, time.Duration, error) {
	scope, err := greeks.ParseScope(rawScope)
	if err != nil {
		return "", time.Time{}, time.Time{}, 0, err
	}
	q := r.URL.Query()

	end := h.now()
	if s := q.Get("end"); s != "" {
		if end, err = parseTime(s); err != nil {
			return "", time.Time{}, time.Time{}, 0, fmt.Errorf("invalid end: %w", err)
		}
	}
	start := end.Add(-defaultHistoryRange)
	if s := q.Get("start"); s != "" {
		if start, err = parseTime(s); err != nil {
			return "", time.Time{}, time.Time{}, 0, fmt.Errorf("invalid start: %w", err)
		}
	}
	if start.After(end) {
		return "", time.Time{}, time.Time{}, 0, fmt.Errorf("start must not be after end")
	}

	var interval time.Duration
	if s := q.Get("interval"); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil || secs < 0 {
			return "", time.Time{}, time.Time{}, 0, fmt.Errorf("invalid interval: %q", s)
		}
		if secs > int64(maxHistoryInterval/time.Second) {
			return "", time.Time{}, time.Time{}, 0, fmt.Errorf("interval must not exceed %d seconds", int64(maxHistoryInterval/time.Second))
		}
		interval = time.Duration(secs) * time.Second
	}
	return scope, start, end, interval, nil
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or unix seconds, got %q", s)
	}
	return t, nil
}

func (h *Handler) metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": h.now().Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
