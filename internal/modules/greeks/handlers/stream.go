package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/aristath/greekwatch/internal/events"
	"github.com/aristath/greekwatch/internal/modules/greeks"
)

const (
	streamBuffer       = 100
	streamWriteTimeout = 5 * time.Second
)

var streamedEvents = []events.EventType{
	events.GreeksAlertRaised,
	events.GreeksAlertAcknowledged,
}

// streamMessage is one frame sent to alert stream clients.
type streamMessage struct {
	Type      events.EventType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// HandleAlertStream handles GET /api/greeks/alerts/stream.
// Raised and acknowledged alerts are pushed as JSON text frames. The optional
// scope and scope_id query parameters filter raised alerts.
func (h *Handler) HandleAlertStream(w http.ResponseWriter, r *http.Request) {
	if h.eventManager == nil {
		http.Error(w, "Event stream unavailable", http.StatusServiceUnavailable)
		return
	}

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

	// Subscribe before the handshake so no event emitted after the client
	// connects is missed
	eventChan := make(chan *events.Event, streamBuffer)
	bus := h.eventManager.Bus()
	ids := make(map[events.EventType]events.SubscriptionID, len(streamedEvents))
	for _, eventType := range streamedEvents {
		ids[eventType] = bus.Subscribe(eventType, func(event *events.Event) {
			if !matchesScope(event, scope, scopeID) {
				return
			}
			select {
			case eventChan <- event:
			default:
				h.log.Warn().Str("event_type", string(event.Type)).Msg("Alert stream buffer full, dropping event")
			}
		})
	}
	defer func() {
		for eventType, id := range ids {
			bus.Unsubscribe(eventType, id)
		}
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Alert stream handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// The stream is write-only; CloseRead handles control frames and cancels
	// ctx once the client goes away
	ctx := conn.CloseRead(r.Context())
	h.log.Debug().Msg("Alert stream client connected")

	for {
		select {
		case <-ctx.Done():
			h.log.Debug().Msg("Alert stream client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			if err := h.writeEvent(ctx, conn, event); err != nil {
				if websocket.CloseStatus(err) == -1 {
					h.log.Warn().Err(err).Msg("Failed to write alert stream event")
				}
				return
			}
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	data, err := json.Marshal(streamMessage{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// matchesScope applies the stream filter. Acknowledgements carry no scope
// and always pass.
func matchesScope(event *events.Event, scope greeks.Scope, scopeID string) bool {
	if event.Type != events.GreeksAlertRaised {
		return true
	}
	if scope != "" && event.Data["scope"] != string(scope) {
		return false
	}
	if scopeID != "" && event.Data["scope_id"] != scopeID {
		return false
	}
	return true
}
