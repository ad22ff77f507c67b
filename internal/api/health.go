package api

import (
	"net/http"
	"time"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/health"
)

// HealthHandler serves cached service health.
type HealthHandler struct {
	checker *health.ServiceHealthChecker
}

func NewHealthHandler(checker *health.ServiceHealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// CheckHealth GET /api/health
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "healthy"
	if !h.checker.IsHealthy() {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respond.WriteJSON(w, status, map[string]string{
		"status": state,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
