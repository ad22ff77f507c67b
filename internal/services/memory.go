// Package services holds the write-path orchestration between the HTTP
// layer and the stores.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/embeddings"
	"github.com/engram-io/engram/internal/idempotency"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// MemoryService owns the memory write path: idempotency guard, embedding,
// and the atomic memory-plus-outbox insert.
type MemoryService struct {
	store    store.Store
	guard    *idempotency.Guard
	embedder embeddings.Provider
	log      zerolog.Logger
}

func NewMemoryService(s store.Store, g *idempotency.Guard, emb embeddings.Provider, log zerolog.Logger) *MemoryService {
	return &MemoryService{
		store:    s,
		guard:    g,
		embedder: emb,
		log:      log.With().Str("component", "memory-service").Logger(),
	}
}

// CreateResult distinguishes a fresh write from a deduplicated replay.
type CreateResult struct {
	Memory    *model.Memory
	Duplicate bool
}

// CreateMemory persists one memory and its fan-out intent. With an
// idempotency key, retries of the same request return the original memory
// instead of writing twice.
func (s *MemoryService) CreateMemory(ctx context.Context, m *model.Memory) (*CreateResult, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	m.MemoryID = uuid.New().String()

	if m.IdempotencyKey != "" {
		acq, err := s.guard.Acquire(ctx, m.OwnerID, m.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !acq.IsNew {
			if acq.MemoryID == "" {
				return nil, model.ErrDuplicateInFlight
			}
			orig, err := s.store.Memories().GetByID(ctx, m.OwnerID, acq.MemoryID)
			if err != nil {
				return nil, err
			}
			return &CreateResult{Memory: orig, Duplicate: true}, nil
		}
	}

	// Embedding happens on the write path so the outbox payload is
	// self-contained; the fallback provider degrades to a zero vector.
	vec, err := s.embedder.Embed(ctx, m.Content)
	if err != nil {
		s.releaseGuard(ctx, m)
		return nil, err
	}
	m.Embedding = vec

	ev := &model.OutboxEvent{
		EventID:  uuid.New().String(),
		MemoryID: m.MemoryID,
		Op:       model.OpUpsertMemory,
		Payload: model.EventPayload{
			OwnerID:      m.OwnerID,
			Content:      m.Content,
			Embedding:    vec,
			Sentiment:    m.Sentiment,
			ObservedTime: m.ObservedTime,
		},
	}
	created, _, err := s.store.Memories().Create(ctx, m, ev)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateIdempotencyKey) {
			// The guard failed open and the unique constraint caught the
			// duplicate. Resolve through the stored original.
			orig, lookupErr := s.store.Memories().GetByIdempotencyKey(ctx, m.OwnerID, m.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			s.guard.MarkResolved(ctx, m.OwnerID, m.IdempotencyKey, orig.MemoryID)
			return &CreateResult{Memory: orig, Duplicate: true}, nil
		}
		s.releaseGuard(ctx, m)
		return nil, err
	}

	if m.IdempotencyKey != "" {
		s.guard.MarkResolved(ctx, m.OwnerID, m.IdempotencyKey, created.MemoryID)
	}
	s.log.Info().
		Str("memory_id", created.MemoryID).
		Str("owner_id", created.OwnerID).
		Msg("memory accepted")
	return &CreateResult{Memory: created}, nil
}

func (s *MemoryService) releaseGuard(ctx context.Context, m *model.Memory) {
	if m.IdempotencyKey != "" {
		s.guard.Release(ctx, m.OwnerID, m.IdempotencyKey)
	}
}

// GetMemory returns one visible memory.
func (s *MemoryService) GetMemory(ctx context.Context, ownerID, memoryID string) (*model.Memory, error) {
	return s.store.Memories().GetByID(ctx, ownerID, memoryID)
}

// ListMemories returns the owner's visible memories, newest first.
func (s *MemoryService) ListMemories(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	return s.store.Memories().List(ctx, ownerID)
}

func validate(m *model.Memory) error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return errors.Join(model.ErrValidation, errors.New("ownerId is required"))
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.Join(model.ErrValidation, errors.New("content is required"))
	}
	if m.Sentiment < -1 || m.Sentiment > 1 {
		return errors.Join(model.ErrValidation, errors.New("sentiment must be in [-1, 1]"))
	}
	if m.ObservedTime.IsZero() {
		return errors.Join(model.ErrValidation, errors.New("observedTime is required"))
	}
	return nil
}
