// Package retrieval answers queries by blending vector similarity with
// graph expansion and deterministic re-ranking.
package retrieval

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/engram-io/engram/internal/embeddings"
	"github.com/engram-io/engram/internal/extraction"
	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
	"github.com/engram-io/engram/internal/store"
)

// Config tunes the read path.
type Config struct {
	// Candidates caps the vector candidate set before re-ranking.
	Candidates int
	// MaxHops bounds graph expansion, 1 to 3.
	MaxHops int
	// SourceTimeout bounds each sub-search independently.
	SourceTimeout time.Duration
	// SeedLimit is how many top vector hits seed graph expansion.
	SeedLimit int
}

// Query is one retrieval request. RelationshipScore is a caller-supplied
// signal for how much the owner values the relationship context of the
// query; it feeds the 0.2-weighted scoring component for positively-toned
// candidates. Unified opts into the recency-boost rerank variant.
type Query struct {
	OwnerID           string
	Text              string
	RelationshipScore float64
	TopK              int
	Unified           bool
}

// Engine runs hybrid retrieval. Each source degrades independently: a
// failed sub-search contributes nothing instead of failing the query.
type Engine struct {
	store     store.Store
	graph     graph.Store
	index     searchindex.Index
	embedder  embeddings.Provider
	extractor extraction.Extractor
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewEngine(s store.Store, g graph.Store, idx searchindex.Index, emb embeddings.Provider,
	ext extraction.Extractor, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Engine {
	if cfg.Candidates <= 0 {
		cfg.Candidates = 50
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 2
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 1500 * time.Millisecond
	}
	if cfg.SeedLimit <= 0 {
		cfg.SeedLimit = 10
	}
	return &Engine{
		store:     s,
		graph:     g,
		index:     idx,
		embedder:  emb,
		extractor: ext,
		cfg:       cfg,
		metrics:   m,
		log:       log.With().Str("component", "retrieval").Logger(),
	}
}

// Search returns up to TopK re-ranked memories plus the graph facts found
// along the way.
func (e *Engine) Search(ctx context.Context, q Query) (*model.RetrievalResult, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	var hits []searchindex.Hit
	var recentIDs []string
	var expansion *graph.Expansion

	// The vector search, the entity-seeded graph expansion, and the
	// fallback seed list are independent; run them together so one slow
	// source does not serialize the whole query.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, q.Text)
		if err != nil {
			e.sourceFailed("vector", err)
			return nil
		}
		sctx, cancel := context.WithTimeout(gctx, e.cfg.SourceTimeout)
		defer cancel()
		hits, err = e.index.Search(sctx, q.OwnerID, vec, e.cfg.Candidates)
		if err != nil {
			e.sourceFailed("vector", err)
			hits = nil
		}
		return nil
	})
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, e.cfg.SourceTimeout)
		defer cancel()
		entities := e.queryEntities(sctx, q.OwnerID, q.Text)
		if len(entities) == 0 {
			return nil
		}
		exp, err := e.graph.ExpandFromEntities(sctx, q.OwnerID, entities, e.cfg.MaxHops, e.cfg.Candidates)
		if err != nil {
			e.sourceFailed("graph", err)
			return nil
		}
		expansion = exp
		return nil
	})
	g.Go(func() error {
		ids, err := e.store.Memories().ListActiveIDs(gctx, q.OwnerID, nil)
		if err != nil {
			return err
		}
		if len(ids) > e.cfg.SeedLimit {
			ids = ids[len(ids)-e.cfg.SeedLimit:]
		}
		recentIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// When the query named no known entities, fall back to expanding from
	// seed memories: the top vector hits, or the newest memories when the
	// index came back empty.
	if expansion == nil {
		seeds := make([]string, 0, e.cfg.SeedLimit)
		for i, h := range hits {
			if i == e.cfg.SeedLimit {
				break
			}
			seeds = append(seeds, h.MemoryID)
		}
		if len(seeds) == 0 {
			seeds = recentIDs
		}
		if len(seeds) > 0 {
			sctx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout)
			exp, err := e.graph.Expand(sctx, q.OwnerID, seeds, e.cfg.MaxHops, e.cfg.Candidates)
			cancel()
			if err != nil {
				e.sourceFailed("graph", err)
			} else {
				expansion = exp
			}
		}
	}

	items, facts, err := e.merge(ctx, q.OwnerID, hits, expansion)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if q.Unified {
		items = unifiedRerank(items, q.RelationshipScore, now)
	} else {
		items = rerank(items, q.RelationshipScore, now)
	}
	if len(items) > topK {
		items = items[:topK]
	}
	return &model.RetrievalResult{Items: items, GraphFacts: sortFacts(facts)}, nil
}

// queryEntities asks the extractor which entities the query text mentions.
// Extraction is best effort here: on failure the entity-seeded expansion is
// skipped, never the whole query.
func (e *Engine) queryEntities(ctx context.Context, ownerID, text string) []string {
	result, err := e.extractor.ExtractFacts(ctx, text, ownerID, nil)
	if err != nil {
		e.sourceFailed("extraction", err)
		return nil
	}
	names := make([]string, 0, len(result.Entities))
	for _, ent := range result.Entities {
		if ent.Name != "" {
			names = append(names, ent.Name)
		}
	}
	return names
}

// merge joins both candidate sets keyed by memory id and drops anything
// the system of record no longer shows. Logical deletion is binding here:
// a deleted memory never surfaces even while still indexed.
func (e *Engine) merge(ctx context.Context, ownerID string, hits []searchindex.Hit, expansion *graph.Expansion) ([]model.RetrievedItem, []model.GraphFact, error) {
	candidates := make(map[string]*model.RetrievedItem)
	var order []string

	for _, h := range hits {
		if _, ok := candidates[h.MemoryID]; ok {
			continue
		}
		candidates[h.MemoryID] = &model.RetrievedItem{
			MemoryID:     h.MemoryID,
			Content:      h.Content,
			Similarity:   h.Similarity,
			Sentiment:    h.Sentiment,
			CreationTime: h.CreationTime,
		}
		order = append(order, h.MemoryID)
	}

	var facts []model.GraphFact
	if expansion != nil {
		facts = expansion.Facts
		for _, lm := range expansion.Memories {
			if item, ok := candidates[lm.MemoryID]; ok {
				if lm.Weight > item.EdgeWeight {
					item.EdgeWeight = lm.Weight
				}
				continue
			}
			// Graph-only candidate: hydrate from the system of record.
			m, err := e.store.Memories().GetByID(ctx, ownerID, lm.MemoryID)
			if err != nil {
				continue
			}
			candidates[lm.MemoryID] = &model.RetrievedItem{
				MemoryID:     m.MemoryID,
				Content:      m.Content,
				EdgeWeight:   lm.Weight,
				Sentiment:    m.Sentiment,
				CreationTime: m.CreationTime,
			}
			order = append(order, lm.MemoryID)
		}
	}

	if len(order) == 0 {
		return nil, facts, nil
	}

	visible, err := e.store.Memories().VisibleStatuses(ctx, ownerID, order)
	if err != nil {
		return nil, nil, err
	}
	items := make([]model.RetrievedItem, 0, len(order))
	for _, id := range order {
		if visible[id] != model.MemoryStatusCommitted {
			continue
		}
		items = append(items, *candidates[id])
	}
	return items, facts, nil
}

func (e *Engine) sourceFailed(source string, err error) {
	e.metrics.RetrievalSourceFailures.WithLabelValues(source).Inc()
	e.log.Warn().Err(err).Str("source", source).Msg("sub-search failed, degrading")
}
