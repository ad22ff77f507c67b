package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	emb "github.com/engram-io/engram/internal/embeddings"
	"github.com/engram-io/engram/internal/embeddings/ollama"
)

// NewEmbeddingProvider builds the configured provider wrapped in the
// zero-vector fallback, so embedding outages degrade writes instead of
// failing them. Launches an async warmup probe.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) emb.Provider {
	var inner emb.Provider
	switch cfg.EmbedProvider {
	case "", "ollama":
		inner = ollama.New(cfg.EmbedModel)
	default:
		log.Warn().Str("provider", cfg.EmbedProvider).Msg("unknown embedding provider; using ollama")
		inner = ollama.New(cfg.EmbedModel)
	}

	go func() {
		wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if vec, err := inner.Embed(wctx, "warmup-check"); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Str("model", cfg.EmbedModel).Msg("embedding provider warmup failed")
		} else {
			log.Debug().Str("model", cfg.EmbedModel).Int("dim", len(vec)).Msg("embedding provider warmup completed")
		}
	}()

	return emb.NewFallbackProvider(inner, cfg.EmbedDim, log)
}
