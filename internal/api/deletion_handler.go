package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/erasure"
	"github.com/engram-io/engram/internal/model"
)

type DeletionHandler struct {
	mgr *erasure.Manager
}

func NewDeletionHandler(mgr *erasure.Manager) *DeletionHandler {
	return &DeletionHandler{mgr: mgr}
}

// RequestDeletion POST /api/owners/{ownerId}/deletions
func (h *DeletionHandler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var req struct {
		DeletionType string   `json:"deletionType"`
		MemoryIDs    []string `json:"memoryIds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	audit, err := h.mgr.RequestDeletion(r.Context(), v["ownerId"], model.DeletionType(req.DeletionType), req.MemoryIDs)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, audit)
}

// GetAudit GET /api/audits/{auditId}
func (h *DeletionHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	audit, err := h.mgr.GetAudit(r.Context(), v["auditId"])
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "audit not found")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, audit)
}

// VerifyAudit GET /api/audits/{auditId}/verify?signature=...
func (h *DeletionHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	res, err := h.mgr.Verify(r.Context(), v["auditId"], r.URL.Query().Get("signature"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "audit not found")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}
