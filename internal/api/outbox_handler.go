package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// OutboxHandler exposes the operator surface of the dead-letter queue.
type OutboxHandler struct {
	outbox store.Outbox
}

func NewOutboxHandler(outbox store.Outbox) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// ListDLQ GET /api/outbox/dlq
func (h *OutboxHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respond.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := h.outbox.ListDLQ(r.Context(), limit)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	if events == nil {
		events = []*model.OutboxEvent{}
	}
	count, err := h.outbox.CountDLQ(r.Context())
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": count})
}

// RequeueDLQ POST /api/outbox/dlq/{eventId}/requeue
func (h *OutboxHandler) RequeueDLQ(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := h.outbox.Requeue(r.Context(), v["eventId"]); err != nil {
		if errors.Is(err, model.ErrConflict) {
			respond.WriteConflict(w, "event is not in the dead-letter queue")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	ev, err := h.outbox.Get(r.Context(), v["eventId"])
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, ev)
}
