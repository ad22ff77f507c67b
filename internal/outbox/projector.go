package outbox

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/embeddings"
	"github.com/engram-io/engram/internal/extraction"
	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
)

// recentEntityWindow bounds how many known entity names are handed to the
// extractor for mention resolution.
const recentEntityWindow = 50

// Projector applies one outbox event to the derived stores. Every apply is
// an idempotent upsert keyed by memory id, so redelivery is harmless.
type Projector struct {
	graph     graph.Store
	index     searchindex.Index
	embedder  embeddings.Provider
	extractor extraction.Extractor
	critic    *extraction.Critic
	log       zerolog.Logger
}

func NewProjector(g graph.Store, idx searchindex.Index, emb embeddings.Provider,
	ext extraction.Extractor, critic *extraction.Critic, log zerolog.Logger) *Projector {
	return &Projector{
		graph:     g,
		index:     idx,
		embedder:  emb,
		extractor: ext,
		critic:    critic,
		log:       log.With().Str("component", "projector").Logger(),
	}
}

// Apply routes the event by op. The error result decides retry vs DLQ.
func (p *Projector) Apply(ctx context.Context, ev *model.OutboxEvent) error {
	if err := ev.Payload.Validate(ev.Op); err != nil {
		return err
	}
	switch ev.Op {
	case model.OpUpsertMemory:
		if err := p.applyVector(ctx, ev); err != nil {
			return err
		}
		return p.applyGraph(ctx, ev)
	case model.OpRepairVector:
		return p.applyVector(ctx, ev)
	case model.OpRepairGraph:
		return p.applyGraph(ctx, ev)
	default:
		return model.ErrMalformedPayload
	}
}

func (p *Projector) applyVector(ctx context.Context, ev *model.OutboxEvent) error {
	vec := ev.Payload.Embedding
	if len(vec) == 0 {
		var err error
		vec, err = p.embedder.Embed(ctx, ev.Payload.Content)
		if err != nil {
			return err
		}
	}
	return p.index.Upsert(ctx, searchindex.MemoryDoc{
		MemoryID:     ev.MemoryID,
		OwnerID:      ev.Payload.OwnerID,
		Content:      ev.Payload.Content,
		Sentiment:    ev.Payload.Sentiment,
		CreationTime: ev.CreationTime,
	}, vec)
}

func (p *Projector) applyGraph(ctx context.Context, ev *model.OutboxEvent) error {
	if err := p.graph.UpsertMemory(ctx, graph.MemoryNode{
		MemoryID:     ev.MemoryID,
		OwnerID:      ev.Payload.OwnerID,
		Content:      ev.Payload.Content,
		Sentiment:    ev.Payload.Sentiment,
		CreationTime: ev.CreationTime,
	}); err != nil {
		return err
	}

	// Known entity names let the extractor resolve mentions against
	// identities already in the graph. Fetching them is best effort.
	known, err := p.graph.RecentEntities(ctx, ev.Payload.OwnerID, recentEntityWindow)
	if err != nil {
		p.log.Warn().Err(err).Str("owner_id", ev.Payload.OwnerID).Msg("recent entity lookup failed")
		known = nil
	}

	result, err := p.extractor.ExtractFacts(ctx, ev.Payload.Content, ev.Payload.OwnerID, known)
	if err != nil {
		return errors.Wrap(err, "extract facts")
	}
	accepted := p.critic.Review(result)
	if accepted == nil {
		return nil
	}
	for _, e := range accepted.Entities {
		if err := p.graph.UpsertEntity(ctx, ev.Payload.OwnerID, e.Name, e.Kind); err != nil {
			return err
		}
		if err := p.graph.LinkMention(ctx, ev.MemoryID, ev.Payload.OwnerID, e.Name); err != nil {
			return err
		}
	}
	for _, r := range accepted.Relations {
		if err := p.graph.UpsertRelation(ctx, graph.RelationEdge{
			OwnerID:   ev.Payload.OwnerID,
			Subject:   r.Subject,
			Relation:  r.Relation,
			Object:    r.Object,
			Weight:    r.Weight,
			Sentiment: r.Sentiment,
		}); err != nil {
			return err
		}
	}
	return nil
}
