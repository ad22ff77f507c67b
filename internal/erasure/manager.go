// Package erasure implements SLA-bound deletion: immediate logical delete,
// physical reaping after a grace period, and signed audit receipts.
package erasure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
	"github.com/engram-io/engram/internal/store"
)

// Config tunes the erasure lifecycle.
type Config struct {
	Secret         []byte
	GracePeriod    time.Duration
	ReaperInterval time.Duration
	SLA            time.Duration
	ReaperBatch    int
}

// Manager owns deletion audits from request to signed completion.
type Manager struct {
	store   store.Store
	graph   graph.Store
	index   searchindex.Index
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewManager(s store.Store, g graph.Store, idx searchindex.Index, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Manager {
	if cfg.ReaperBatch <= 0 {
		cfg.ReaperBatch = 20
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 5 * time.Minute
	}
	return &Manager{
		store:   s,
		graph:   g,
		index:   idx,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "erasure").Logger(),
	}
}

// RequestDeletion hides the affected memories immediately and opens a
// pending audit. Physical deletion happens after the grace period.
func (m *Manager) RequestDeletion(ctx context.Context, ownerID string, dt model.DeletionType, memoryIDs []string) (*model.DeletionAudit, error) {
	switch dt {
	case model.DeletionFull:
		memoryIDs = nil
	case model.DeletionSelective:
		if len(memoryIDs) == 0 {
			return nil, fmt.Errorf("%w: selective deletion requires memory ids", model.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown deletion type %q", model.ErrValidation, dt)
	}

	affected, err := m.store.Memories().ListActiveIDs(ctx, ownerID, memoryIDs)
	if err != nil {
		return nil, err
	}

	audit := &model.DeletionAudit{
		AuditID:       uuid.New().String(),
		OwnerID:       ownerID,
		DeletionType:  dt,
		AffectedIDs:   affected,
		AffectedCount: len(affected),
		RequestedTime: time.Now().UTC(),
	}
	audit.PayloadHash, err = PayloadHash(m.cfg.Secret, audit)
	if err != nil {
		return nil, err
	}

	created, err := m.store.Audits().CreateWithLogicalDelete(ctx, audit)
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Str("audit_id", created.AuditID).
		Str("owner_id", ownerID).
		Str("type", string(dt)).
		Int("affected", created.AffectedCount).
		Msg("deletion requested, memories hidden")
	return created, nil
}

// GetAudit returns the audit receipt.
func (m *Manager) GetAudit(ctx context.Context, auditID string) (*model.DeletionAudit, error) {
	return m.store.Audits().Get(ctx, auditID)
}

// RunReaper drives physical deletion until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		if err := m.ReapOnce(ctx); err != nil {
			m.log.Error().Stack().Err(err).Msg("reap cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReapOnce processes every audit whose grace period has elapsed. An audit
// that fails mid-way stays pending and is retried next tick; all deletes
// are idempotent.
func (m *Manager) ReapOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.GracePeriod)
	due, err := m.store.Audits().ListPendingRequestedBefore(ctx, cutoff, m.cfg.ReaperBatch)
	if err != nil {
		return err
	}
	for _, audit := range due {
		if err := m.reap(ctx, audit); err != nil {
			m.log.Error().Stack().Err(err).Str("audit_id", audit.AuditID).Msg("reap failed, will retry")
		}
	}
	m.updateOverdueGauge(ctx)
	return nil
}

// reap deletes derived projections first, then the system-of-record rows,
// then seals the audit. Ordering matters: a crash between steps leaves
// rows for the next attempt, never a signed audit over surviving data.
// Deletion is always scoped to the ids captured at request time, so
// memories written after the request are untouched even for full deletion.
func (m *Manager) reap(ctx context.Context, audit *model.DeletionAudit) error {
	for _, id := range audit.AffectedIDs {
		if err := m.index.Delete(ctx, id); err != nil {
			return fmt.Errorf("vector delete %s: %w", id, err)
		}
		if err := m.graph.DeleteMemory(ctx, id); err != nil {
			return fmt.Errorf("graph delete %s: %w", id, err)
		}
	}
	if audit.DeletionType == model.DeletionFull {
		// Extracted entities must not outlive the memories that mentioned
		// them.
		if err := m.graph.PruneEntities(ctx, audit.OwnerID); err != nil {
			return fmt.Errorf("graph prune: %w", err)
		}
	}

	if err := m.store.Memories().HardDelete(ctx, audit.OwnerID, audit.AffectedIDs); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}

	completedAt := time.Now().UTC()
	sig, err := Sign(m.cfg.Secret, audit, completedAt)
	if err != nil {
		return err
	}
	if err := m.store.Audits().MarkCompleted(ctx, audit.AuditID, sig, completedAt); err != nil {
		return err
	}
	m.metrics.ErasuresCompleted.Inc()
	m.log.Info().
		Str("audit_id", audit.AuditID).
		Str("owner_id", audit.OwnerID).
		Int("affected", audit.AffectedCount).
		Dur("age", completedAt.Sub(audit.RequestedTime)).
		Msg("erasure completed and sealed")
	return nil
}

func (m *Manager) updateOverdueGauge(ctx context.Context) {
	slaCutoff := time.Now().UTC().Add(-m.cfg.SLA)
	overdue, err := m.store.Audits().ListPendingRequestedBefore(ctx, slaCutoff, 1000)
	if err != nil {
		m.log.Warn().Err(err).Msg("overdue scan failed")
		return
	}
	m.metrics.ErasuresOverdue.Set(float64(len(overdue)))
	for _, a := range overdue {
		m.log.Error().Stack().
			Str("audit_id", a.AuditID).
			Time("requested", a.RequestedTime).
			Msg("erasure past SLA")
	}
}

// VerifyResult is the outcome of an audit verification.
type VerifyResult struct {
	AuditID        string `json:"auditId"`
	SignatureValid bool   `json:"signatureValid"`
	UndeletedCount int    `json:"undeletedCount"`
	Valid          bool   `json:"valid"`
}

// Verify checks an audit receipt and rechecks that none of the affected
// memories survive. Both must hold for the receipt to stand. When the
// caller presents a signature it is compared against the recomputed one in
// constant time; otherwise the stored signature is re-verified.
func (m *Manager) Verify(ctx context.Context, auditID, signature string) (*VerifyResult, error) {
	audit, err := m.store.Audits().Get(ctx, auditID)
	if err != nil {
		return nil, err
	}
	var sigOK bool
	if signature != "" {
		sigOK, err = MatchesSignature(m.cfg.Secret, audit, signature)
	} else {
		sigOK, err = VerifySignature(m.cfg.Secret, audit)
	}
	if err != nil {
		return nil, err
	}
	undeleted, err := m.store.Memories().CountUndeleted(ctx, audit.OwnerID, audit.AffectedIDs)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		AuditID:        audit.AuditID,
		SignatureValid: sigOK,
		UndeletedCount: undeleted,
		Valid:          sigOK && undeleted == 0,
	}, nil
}
