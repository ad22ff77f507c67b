package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/searchindex"
)

// NewSearchIndex creates the Weaviate-backed vector index. Schema bootstrap
// runs async with a short timeout so a slow index does not block startup.
func NewSearchIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	idx, err := searchindex.NewWeaviateIndex(cfg.WeaviateURL)
	if err != nil {
		return nil, err
	}

	go func() {
		bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := searchindex.BootstrapWeaviate(bctx, cfg.WeaviateURL); err != nil {
			log.Warn().Err(err).Str("url", cfg.WeaviateURL).Msg("search index bootstrap failed")
		} else {
			log.Debug().Str("url", cfg.WeaviateURL).Msg("search index bootstrap completed")
		}
	}()

	return idx, nil
}
