package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/response"
)

// Healthz reports whether the datastore answers
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			response.JSON(w, http.StatusServiceUnavailable, false, "Datastore unavailable.", nil)
			return
		}
	}
	response.OK(w, "OK", map[string]string{"status": "ok"})
}
