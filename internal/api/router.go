package api

import (
	"github.com/gorilla/mux"

	"github.com/engram-io/engram/internal/api/recovery"
	"github.com/engram-io/engram/internal/consistency"
	"github.com/engram-io/engram/internal/erasure"
	"github.com/engram-io/engram/internal/health"
	"github.com/engram-io/engram/internal/retrieval"
	"github.com/engram-io/engram/internal/services"
	"github.com/engram-io/engram/internal/store"
)

// Deps collects everything the router serves.
type Deps struct {
	Memories *services.MemoryService
	Engine   *retrieval.Engine
	Erasure  *erasure.Manager
	Auditor  *consistency.Auditor
	Outbox   store.Outbox
	Health   *health.ServiceHealthChecker
}

// NewRouter wires all API routes.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	memoryHandler := NewMemoryHandler(d.Memories)
	searchHandler := NewSearchHandler(d.Engine)
	deletionHandler := NewDeletionHandler(d.Erasure)
	outboxHandler := NewOutboxHandler(d.Outbox)
	sloHandler := NewSLOHandler(d.Auditor)
	healthHandler := NewHealthHandler(d.Health)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/slo", sloHandler.GetSLO).Methods("GET")

	router.HandleFunc("/api/memories", memoryHandler.CreateMemory).Methods("POST")
	router.HandleFunc("/api/owners/{ownerId}/memories", memoryHandler.ListMemories).Methods("GET")
	router.HandleFunc("/api/owners/{ownerId}/memories/{memoryId:[0-9a-fA-F-]{36}}", memoryHandler.GetMemory).Methods("GET")

	router.HandleFunc("/api/search", searchHandler.HandleSearch).Methods("POST")

	router.HandleFunc("/api/owners/{ownerId}/deletions", deletionHandler.RequestDeletion).Methods("POST")
	router.HandleFunc("/api/audits/{auditId:[0-9a-fA-F-]{36}}", deletionHandler.GetAudit).Methods("GET")
	router.HandleFunc("/api/audits/{auditId:[0-9a-fA-F-]{36}}/verify", deletionHandler.VerifyAudit).Methods("GET")

	router.HandleFunc("/api/outbox/dlq", outboxHandler.ListDLQ).Methods("GET")
	router.HandleFunc("/api/outbox/dlq/{eventId:[0-9a-fA-F-]{36}}/requeue", outboxHandler.RequeueDLQ).Methods("POST")

	return router
}
