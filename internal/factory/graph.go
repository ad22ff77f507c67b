package factory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/graph"
)

// NewGraph connects to Neo4j and verifies connectivity before returning.
func NewGraph(ctx context.Context, cfg *config.Config, log zerolog.Logger) (graph.Store, error) {
	g, err := graph.NewNeo4j(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, err
	}
	log.Info().Str("uri", cfg.Neo4jURI).Msg("graph store ready")
	return g, nil
}
