package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/services"
)

type MemoryHandler struct {
	svc *services.MemoryService
}

func NewMemoryHandler(svc *services.MemoryService) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

// CreateMemory POST /api/memories
func (h *MemoryHandler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      string     `json:"ownerId"`
		Content      string     `json:"content"`
		Sentiment    float64    `json:"sentiment"`
		ObservedTime *time.Time `json:"observedTime,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	observed := time.Now().UTC()
	if req.ObservedTime != nil {
		observed = req.ObservedTime.UTC()
	}
	m := &model.Memory{
		OwnerID:        req.OwnerID,
		Content:        req.Content,
		Sentiment:      req.Sentiment,
		ObservedTime:   observed,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	out, err := h.svc.CreateMemory(r.Context(), m)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, model.ErrDuplicateInFlight):
		respond.WriteConflict(w, "original request still in flight, retry shortly")
		return
	default:
		respond.WriteInternalError(w, err.Error())
		return
	}

	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	respond.WriteJSON(w, status, out.Memory)
}

// GetMemory GET /api/owners/{ownerId}/memories/{memoryId}
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	out, err := h.svc.GetMemory(r.Context(), v["ownerId"], v["memoryId"])
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "memory not found")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// ListMemories GET /api/owners/{ownerId}/memories
func (h *MemoryHandler) ListMemories(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	out, err := h.svc.ListMemories(r.Context(), v["ownerId"])
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	if out == nil {
		out = []*model.Memory{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"memories": out, "count": len(out)})
}
