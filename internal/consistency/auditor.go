// Package consistency audits derived stores against the system of record
// and schedules fix-forward repairs for drift.
package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
	"github.com/engram-io/engram/internal/store"
)

// Config tunes the audit cycle.
type Config struct {
	Interval   time.Duration
	SampleSize int
	LagWindow  time.Duration
	SLOMedian  time.Duration
	SLOP95     time.Duration
}

// Report is one audit cycle's findings. Exposed on the SLO endpoint.
type Report struct {
	GeneratedAt     time.Time `json:"generatedAt"`
	SampledCount    int       `json:"sampledCount"`
	MissingVector   int       `json:"missingVector"`
	MissingGraph    int       `json:"missingGraph"`
	MismatchRate    float64   `json:"mismatchRate"`
	RepairsEnqueued int       `json:"repairsEnqueued"`
	OrphansFlagged  []string  `json:"orphansFlagged,omitempty"`
	DLQBacklog      int       `json:"dlqBacklog"`
	LagSampleCount  int       `json:"lagSampleCount"`
	MedianLagMs     int64     `json:"medianLagMs"`
	P95LagMs        int64     `json:"p95LagMs"`
	SLOMet          bool      `json:"sloMet"`
}

// Auditor samples committed memories, probes the derived stores, and
// enqueues repair events for anything missing. Drift is repaired by
// replaying through the outbox, never by writing to derived stores
// directly, so repairs get the same retry and DLQ handling as any write.
type Auditor struct {
	store   store.Store
	graph   graph.Store
	index   searchindex.Index
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu   sync.RWMutex
	last *Report
}

func NewAuditor(s store.Store, g graph.Store, idx searchindex.Index, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Auditor {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Auditor{
		store:   s,
		graph:   g,
		index:   idx,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "auditor").Logger(),
	}
}

// Run executes audit cycles until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := a.RunOnce(ctx); err != nil {
			a.log.Error().Stack().Err(err).Msg("audit cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LastReport returns the most recent report, nil before the first cycle.
func (a *Auditor) LastReport() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// RunOnce performs a single audit cycle and returns its report.
func (a *Auditor) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{GeneratedAt: time.Now().UTC()}

	sample, err := a.store.Memories().SampleCommitted(ctx, a.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	report.SampledCount = len(sample)

	for _, m := range sample {
		inVector, err := a.index.Exists(ctx, m.MemoryID)
		if err != nil {
			a.log.Warn().Err(err).Str("memory_id", m.MemoryID).Msg("vector probe failed, skipping")
		} else if !inVector {
			report.MissingVector++
			if a.enqueueRepair(ctx, m, model.OpRepairVector) {
				report.RepairsEnqueued++
			}
		}

		inGraph, err := a.graph.HasMemory(ctx, m.MemoryID)
		if err != nil {
			a.log.Warn().Err(err).Str("memory_id", m.MemoryID).Msg("graph probe failed, skipping")
		} else if !inGraph {
			report.MissingGraph++
			if a.enqueueRepair(ctx, m, model.OpRepairGraph) {
				report.RepairsEnqueued++
			}
		}
	}
	if report.SampledCount > 0 {
		mismatched := report.MissingVector + report.MissingGraph
		report.MismatchRate = float64(mismatched) / float64(2*report.SampledCount)
	}

	report.OrphansFlagged = a.flagOrphans(ctx)

	if n, err := a.store.Outbox().CountDLQ(ctx); err == nil {
		report.DLQBacklog = n
		a.metrics.DLQBacklog.Set(float64(n))
	}

	samples, err := a.store.Outbox().LagSamples(ctx, a.cfg.LagWindow, 1000)
	if err != nil {
		a.log.Warn().Err(err).Msg("lag sampling failed")
	}
	report.LagSampleCount = len(samples)
	median := percentile(samples, 0.5)
	p95 := percentile(samples, 0.95)
	report.MedianLagMs = median.Milliseconds()
	report.P95LagMs = p95.Milliseconds()
	report.SLOMet = median <= a.cfg.SLOMedian && p95 <= a.cfg.SLOP95

	a.metrics.MismatchRate.Set(report.MismatchRate)

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()

	a.log.Info().
		Int("sampled", report.SampledCount).
		Int("missing_vector", report.MissingVector).
		Int("missing_graph", report.MissingGraph).
		Int("repairs", report.RepairsEnqueued).
		Int("orphans", len(report.OrphansFlagged)).
		Int("dlq", report.DLQBacklog).
		Int64("median_lag_ms", report.MedianLagMs).
		Int64("p95_lag_ms", report.P95LagMs).
		Bool("slo_met", report.SLOMet).
		Msg("audit cycle complete")
	return report, nil
}

// enqueueRepair schedules a fix-forward replay for one derived store.
func (a *Auditor) enqueueRepair(ctx context.Context, m *model.Memory, op model.EventOp) bool {
	ev := &model.OutboxEvent{
		EventID:  uuid.New().String(),
		MemoryID: m.MemoryID,
		Op:       op,
		Payload: model.EventPayload{
			OwnerID:      m.OwnerID,
			Content:      m.Content,
			Embedding:    m.Embedding,
			Sentiment:    m.Sentiment,
			ObservedTime: m.ObservedTime,
		},
	}
	if err := a.store.Outbox().Enqueue(ctx, ev); err != nil {
		a.log.Error().Stack().Err(err).Str("memory_id", m.MemoryID).Str("op", string(op)).Msg("repair enqueue failed")
		return false
	}
	a.metrics.RepairsEnqueued.WithLabelValues(string(op)).Inc()
	a.log.Warn().Str("memory_id", m.MemoryID).Str("op", string(op)).Msg("drift detected, repair enqueued")
	return true
}

// flagOrphans samples derived-store ids and reports any with no
// system-of-record row. Orphans are flagged for manual review, never
// deleted automatically: the record of what went wrong is evidence.
func (a *Auditor) flagOrphans(ctx context.Context) []string {
	var orphans []string
	check := func(source string, ids []string, err error) {
		if err != nil {
			a.log.Warn().Err(err).Str("source", source).Msg("orphan sampling failed")
			return
		}
		for _, id := range ids {
			exists, err := a.store.Memories().Exists(ctx, id)
			if err != nil {
				a.log.Warn().Err(err).Str("memory_id", id).Msg("orphan check failed")
				continue
			}
			if !exists {
				orphans = append(orphans, id)
				a.metrics.OrphansFlagged.Inc()
				a.log.Warn().Str("memory_id", id).Str("source", source).Msg("orphaned derived record flagged for review")
			}
		}
	}

	ids, err := a.index.SampleMemoryIDs(ctx, a.cfg.SampleSize)
	check("vector", ids, err)
	ids, err = a.graph.SampleMemoryIDs(ctx, a.cfg.SampleSize)
	check("graph", ids, err)
	return orphans
}
