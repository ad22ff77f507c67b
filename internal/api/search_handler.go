package api

import (
	"encoding/json"
	"net/http"

	"github.com/engram-io/engram/internal/api/respond"
	"github.com/engram-io/engram/internal/retrieval"
)

type SearchHandler struct {
	engine *retrieval.Engine
}

func NewSearchHandler(engine *retrieval.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// HandleSearch POST /api/search
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID           string  `json:"ownerId"`
		Query             string  `json:"query"`
		RelationshipScore float64 `json:"relationshipScore"`
		TopK              int     `json:"topK"`
		Unified           bool    `json:"unified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.OwnerID == "" || req.Query == "" {
		respond.WriteBadRequest(w, "ownerId and query are required")
		return
	}

	res, err := h.engine.Search(r.Context(), retrieval.Query{
		OwnerID:           req.OwnerID,
		Text:              req.Query,
		RelationshipScore: req.RelationshipScore,
		TopK:              req.TopK,
		Unified:           req.Unified,
	})
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}
