// Package memoryservice wires and runs the engram HTTP service: the write
// path (memories plus outbox), hybrid retrieval, the consistency auditor,
// and the erasure lifecycle.
package memoryservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/api"
	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/consistency"
	"github.com/engram-io/engram/internal/erasure"
	"github.com/engram-io/engram/internal/factory"
	"github.com/engram-io/engram/internal/health"
	"github.com/engram-io/engram/internal/logger"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/retrieval"
	"github.com/engram-io/engram/internal/services"
)

// Run starts the engram service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("engram-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("weaviate_url", cfg.WeaviateURL).
		Str("neo4j_uri", cfg.Neo4jURI).
		Str("embed_model", cfg.EmbedModel).
		Msg("Engram service starting")

	ctx, stop := newServerContext()
	defer stop()

	m := metrics.New("engram", prometheus.DefaultRegisterer)

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
	guard := factory.NewGuard(cfg, log)

	extractor, _ := factory.NewExtractor(cfg, log)

	memorySvc := services.NewMemoryService(st, guard, embProvider, log)
	engine := retrieval.NewEngine(st, g, idx, embProvider, extractor, retrieval.Config{
		Candidates:    cfg.RetrievalCandidates,
		MaxHops:       cfg.RetrievalMaxHops,
		SourceTimeout: cfg.RetrievalTimeout(),
	}, m, log)
	erasureMgr := erasure.NewManager(st, g, idx, erasure.Config{
		Secret:         []byte(cfg.AuditSecret),
		GracePeriod:    cfg.ErasureGrace(),
		ReaperInterval: cfg.ReaperInterval(),
		SLA:            cfg.ErasureSLA(),
	}, m, log)
	auditor := consistency.NewAuditor(st, g, idx, consistency.Config{
		Interval:   cfg.AuditInterval(),
		SampleSize: cfg.AuditSampleSize,
		LagWindow:  cfg.AuditLagWindow(),
		SLOMedian:  time.Duration(cfg.SLOMedianMs) * time.Millisecond,
		SLOP95:     time.Duration(cfg.SLOP95Ms) * time.Millisecond,
	}, m, log)

	go erasureMgr.RunReaper(ctx)
	go auditor.Run(ctx)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, g, idx)

	router := api.NewRouter(api.Deps{
		Memories: memorySvc,
		Engine:   engine,
		Erasure:  erasureMgr,
		Auditor:  auditor,
		Outbox:   st.Outbox(),
		Health:   svcHealth,
	})

	metricsSrv := serveMetrics(cfg, log)
	defer func() { _ = metricsSrv.Close() }()

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownSeconds)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// startHealthCheckers starts component checkers and the service aggregator.
// Redis is deliberately absent: the idempotency guard fails open, so a down
// Redis degrades dedupe without making the service unhealthy.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger,
	deps ...health.HealthPinger) *health.ServiceHealthChecker {
	names := []string{"store", "graph", "searchindex"}
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.HealthChecker
	for i, d := range deps {
		c := health.NewPingChecker(names[i], d, log, probeTimeout)
		go c.Start(ctx, interval)
		checkers = append(checkers, c)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

func serveMetrics(cfg *config.Config, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr(), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.MetricsPort).Msg("Metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// newServerContext returns a cancellable context bound to SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
