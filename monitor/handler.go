package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// errorResponse mirrors the denial body shape used on the request path.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Routes returns the read-only operator API. Mount it behind whatever
// authentication the deployment already has; this package does none.
func (m *Monitor) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/metrics", m.handleMetrics)
	r.Get("/overrides", m.handleOverrides)
	return r
}

func (m *Monitor) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := m.Metrics(r.Context())
	if err != nil {
		m.log.WithError(err).Error("metrics aggregation failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   "store_unavailable",
			Message: "Security metrics are temporarily unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (m *Monitor) handleOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := m.Overrides(r.Context())
	if err != nil {
		m.log.WithError(err).Error("override listing failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   "store_unavailable",
			Message: "Override table is temporarily unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
