// Package fanoutworker wires and runs the outbox fan-out worker process: it
// claims pending outbox events and projects them into the vector index and
// the graph store.
package fanoutworker

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/factory"
	"github.com/engram-io/engram/internal/logger"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/outbox"
)

// Run starts the fan-out worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("engram-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("workers", cfg.WorkerCount).
		Int("batch_size", cfg.OutboxBatchSize).
		Msg("Fan-out worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("engram_worker", prometheus.DefaultRegisterer)

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	g, err := factory.NewGraph(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Graph store unavailable")
		return err
	}
	defer func() { _ = g.Close(context.Background()) }()

	idx, err := factory.NewSearchIndex(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Search index unavailable")
		return err
	}

	embProvider := factory.NewEmbeddingProvider(ctx, cfg, log)
	extractor, critic := factory.NewExtractor(cfg, log)

	projector := outbox.NewProjector(g, idx, embProvider, extractor, critic, log)
	worker := outbox.NewWorker(st, projector, outbox.Config{
		Workers:      cfg.WorkerCount,
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.PollInterval(),
		MaxRetries:   cfg.OutboxMaxRetries,
		BackoffBase:  cfg.BackoffBase(),
		BackoffCap:   cfg.BackoffCap(),
	}, m, log)

	go serveMetrics(cfg, log)

	worker.Run(ctx)
	log.Info().Msg("Fan-out worker exited")
	return nil
}

func serveMetrics(cfg *config.Config, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr(), Handler: mux}
	log.Info().Int("port", cfg.MetricsPort).Msg("Metrics server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
