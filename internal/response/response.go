// Package response writes the JSON envelope shared by every API endpoint
package response

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/apperr"
)

// Envelope is the body of every API response
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// JSON writes an envelope with status
func JSON(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Success:   success,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// OK writes a successful envelope
func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, true, message, data)
}

// Error maps err to a caller-safe envelope. Internal failures are logged with
// their cause and answered with a uniform message.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, message := apperr.Public(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.String("kind", apperr.KindOf(err).String()), zap.Error(err))
	}
	JSON(w, status, false, message, nil)
}
