package api

import (
	"net/http"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/consistency"
)

// SLOHandler serves the latest consistency audit report.
type SLOHandler struct {
	auditor *consistency.Auditor
}

func NewSLOHandler(auditor *consistency.Auditor) *SLOHandler {
	return &SLOHandler{auditor: auditor}
}

// GetSLO GET /api/slo
func (h *SLOHandler) GetSLO(w http.ResponseWriter, r *http.Request) {
	report := h.auditor.LastReport()
	if report == nil {
		respond.WriteJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "no audit cycle has completed yet"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, report)
}
