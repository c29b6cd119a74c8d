package handlers

import (
	"net/http"

	"streetcount/internal/logger"
)

// Stopper cancels the running batch.
type Stopper interface {
	Stop()
}

// CancelHandler requests cooperative cancellation of the running batch.
// In-flight images finish; nothing new is dispatched.
func CancelHandler(s Stopper, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Stop()
		logger.Warning("🛑 Batch cancellation requested from %s", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	}
}
