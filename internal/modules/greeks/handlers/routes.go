package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all Greeks routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/greeks", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.HandleGetAlerts)
			r.Get("/stream", h.HandleAlertStream)
			r.Post("/{alertID}/ack", func(w http.ResponseWriter, r *http.Request) {
				h.HandleAcknowledgeAlert(w, r, chi.URLParam(r, "alertID"))
			})
		})

		r.Route("/{scope}/{scopeID}", func(r chi.Router) {
			r.Get("/latest", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetLatest(w, r, chi.URLParam(r, "scope"), chi.URLParam(r, "scopeID"))
			})
			r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetHistory(w, r, chi.URLParam(r, "scope"), chi.URLParam(r, "scopeID"))
			})
			r.Get("/history/summary", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetHistorySummary(w, r, chi.URLParam(r, "scope"), chi.URLParam(r, "scopeID"))
			})
		})
	})
}
