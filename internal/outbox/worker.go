// Package outbox delivers write intents from the system of record to the
// derived stores with at-least-once semantics.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// Config tunes the worker pool.
type Config struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// Worker polls the outbox, applies events through the projector, and drives
// the event state machine. Multiple workers race on ClaimBatch; the
// conditional claim keeps each event exclusive.
type Worker struct {
	store     store.Store
	projector *Projector
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewWorker(s store.Store, p *Projector, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	return &Worker{
		store:     s,
		projector: p,
		cfg:       cfg,
		metrics:   m,
		log:       log.With().Str("component", "outbox-worker").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := w.store.Outbox().ClaimBatch(ctx, w.cfg.BatchSize)
		if err != nil {
			log.Error().Stack().Err(err).Msg("claim failed")
		}
		for _, ev := range events {
			w.processEvent(ctx, ev)
		}
		if len(events) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// processEvent runs one claimed event to its next status.
func (w *Worker) processEvent(ctx context.Context, ev *model.OutboxEvent) {
	log := w.log.With().Str("event_id", ev.EventID).Str("memory_id", ev.MemoryID).Str("op", string(ev.Op)).Logger()

	err := w.projector.Apply(ctx, ev)
	if err == nil {
		if err := w.store.Outbox().MarkDone(ctx, ev.EventID); err != nil {
			log.Error().Stack().Err(err).Msg("mark done failed")
			return
		}
		w.metrics.EventsProcessed.WithLabelValues(string(ev.Op), "done").Inc()
		w.metrics.ObserveDeliveryLag(time.Since(ev.CreationTime))
		w.commitIfUpsert(ctx, ev, log)
		return
	}

	if isPermanent(err) {
		log.Error().Stack().Err(err).Msg("permanent failure, dead-lettering")
		w.deadLetter(ctx, ev, err, "permanent", log)
		return
	}

	if ev.RetryCount+1 > w.cfg.MaxRetries {
		log.Error().Stack().Err(err).Int("retries", ev.RetryCount).Msg("retries exhausted, dead-lettering")
		w.deadLetter(ctx, ev, err, "exhausted", log)
		return
	}

	delay := backoffDelay(ev.RetryCount, w.cfg.BackoffBase, w.cfg.BackoffCap)
	next := time.Now().UTC().Add(delay)
	if err2 := w.store.Outbox().ScheduleRetry(ctx, ev.EventID, next, err.Error()); err2 != nil {
		log.Error().Stack().Err(err2).Msg("schedule retry failed")
		return
	}
	w.metrics.EventsProcessed.WithLabelValues(string(ev.Op), "retry").Inc()
	log.Warn().Err(err).Dur("delay", delay).Int("retry", ev.RetryCount+1).Msg("transient failure, retrying")
}

func (w *Worker) deadLetter(ctx context.Context, ev *model.OutboxEvent, cause error, result string, log zerolog.Logger) {
	if err := w.store.Outbox().MarkFailed(ctx, ev.EventID, cause.Error()); err != nil {
		log.Error().Stack().Err(err).Msg("mark failed failed")
		return
	}
	if err := w.store.Outbox().MarkDLQ(ctx, ev.EventID); err != nil {
		log.Error().Stack().Err(err).Msg("mark dlq failed")
		return
	}
	w.metrics.EventsProcessed.WithLabelValues(string(ev.Op), result).Inc()
	if n, err := w.store.Outbox().CountDLQ(ctx); err == nil {
		w.metrics.DLQBacklog.Set(float64(n))
	}
	// The event is terminal either way; the memory leaves pending so the
	// write path stays available while an operator works the DLQ.
	w.commitIfUpsert(ctx, ev, log)
}

func (w *Worker) commitIfUpsert(ctx context.Context, ev *model.OutboxEvent, log zerolog.Logger) {
	if ev.Op != model.OpUpsertMemory {
		return
	}
	if err := w.store.Memories().Commit(ctx, ev.MemoryID); err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Error().Stack().Err(err).Msg("commit failed")
	}
}
