package factory

import (
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/extraction"
)

// NewExtractor builds the fact extractor and the critic that filters its
// output before anything reaches the graph.
func NewExtractor(cfg *config.Config, log zerolog.Logger) (extraction.Extractor, *extraction.Critic) {
	return extraction.NewOllamaExtractor(cfg.ExtractModel),
		extraction.NewCritic(cfg.ExtractMinConfidence, log)
}
