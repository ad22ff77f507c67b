package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/extraction"
	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
	"github.com/engram-io/engram/internal/store"
	"github.com/engram-io/engram/internal/store/sqlite"
)

type scriptedGraph struct {
	graph.Store
	expansion       *graph.Expansion
	entityExpansion *graph.Expansion
	err             error
	gotSeeds        []string
	gotEntities     []string
}

func (g *scriptedGraph) Expand(ctx context.Context, ownerID string, seeds []string, maxHops, limit int) (*graph.Expansion, error) {
	g.gotSeeds = seeds
	if g.err != nil {
		return nil, g.err
	}
	if g.expansion == nil {
		return &graph.Expansion{}, nil
	}
	return g.expansion, nil
}

func (g *scriptedGraph) ExpandFromEntities(ctx context.Context, ownerID string, entities []string, maxHops, limit int) (*graph.Expansion, error) {
	g.gotEntities = entities
	if g.err != nil {
		return nil, g.err
	}
	if g.entityExpansion == nil {
		return &graph.Expansion{}, nil
	}
	return g.entityExpansion, nil
}

type scriptedIndex struct {
	searchindex.Index
	hits []searchindex.Hit
	err  error
}

func (i *scriptedIndex) Search(ctx context.Context, ownerID string, vec []float32, topK int) ([]searchindex.Hit, error) {
	if i.err != nil {
		return nil, i.err
	}
	return i.hits, nil
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type queryExtractor struct {
	result *extraction.Result
	err    error
}

func (e *queryExtractor) ExtractFacts(ctx context.Context, text, ownerID string, knownEntities []string) (*extraction.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.result == nil {
		return &extraction.Result{}, nil
	}
	return e.result, nil
}

type rig struct {
	store store.Store
	graph *scriptedGraph
	index *scriptedIndex
	ext   *queryExtractor
	eng   *Engine
}

func newRig(t *testing.T) *rig {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "engram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	g := &scriptedGraph{}
	idx := &scriptedIndex{}
	ext := &queryExtractor{}
	m := metrics.New("test", prometheus.NewRegistry())
	eng := NewEngine(s, g, idx, &stubEmbedder{vec: []float32{0.1}}, ext,
		Config{Candidates: 50, MaxHops: 2, SourceTimeout: time.Second}, m, zerolog.Nop())
	return &rig{store: s, graph: g, index: idx, ext: ext, eng: eng}
}

// addCommitted persists a committed memory and returns its id.
func (r *rig) addCommitted(t *testing.T, owner, content string, sentiment float64) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()
	now := time.Now().UTC()
	m := &model.Memory{MemoryID: id, OwnerID: owner, Content: content, Sentiment: sentiment, ObservedTime: now}
	ev := &model.OutboxEvent{
		EventID: uuid.New().String(), MemoryID: id, Op: model.OpUpsertMemory,
		Payload: model.EventPayload{OwnerID: owner, Content: content, Sentiment: sentiment, ObservedTime: now},
	}
	_, _, err := r.store.Memories().Create(ctx, m, ev)
	require.NoError(t, err)
	evs, err := r.store.Outbox().ClaimBatch(ctx, 100)
	require.NoError(t, err)
	for _, e := range evs {
		require.NoError(t, r.store.Outbox().MarkDone(ctx, e.EventID))
	}
	require.NoError(t, r.store.Memories().Commit(ctx, id))
	return id
}

func TestSearchMergesVectorAndGraphCandidates(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	vecID := r.addCommitted(t, "owner-1", "enjoys morning runs", 0.5)
	graphID := r.addCommitted(t, "owner-1", "signed up for a marathon", 0.8)

	r.index.hits = []searchindex.Hit{
		{MemoryID: vecID, Content: "enjoys morning runs", Similarity: 0.9, Sentiment: 0.5, CreationTime: now},
	}
	r.graph.expansion = &graph.Expansion{
		Memories: []graph.LinkedMemory{{MemoryID: graphID, Weight: 0.7, HopDistance: 1}},
		Facts:    []model.GraphFact{{Subject: "ana", Relation: "trains_for", Object: "marathon", Weight: 0.7, HopDistance: 1}},
	}

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "running", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, []string{vecID}, r.graph.gotSeeds)

	byID := map[string]model.RetrievedItem{}
	for _, it := range res.Items {
		byID[it.MemoryID] = it
	}
	require.InDelta(t, 0.9, byID[vecID].Similarity, 1e-9)
	require.InDelta(t, 0.7, byID[graphID].EdgeWeight, 1e-9)
	// Graph-only candidates are hydrated from the system of record.
	require.Equal(t, "signed up for a marathon", byID[graphID].Content)

	require.Len(t, res.GraphFacts, 1)
	require.Equal(t, "trains_for", res.GraphFacts[0].Relation)
}

func TestSearchExpandsFromQueryEntities(t *testing.T) {
	r := newRig(t)

	graphID := r.addCommitted(t, "owner-1", "ana moved to lisbon", 0.6)
	r.ext.result = &extraction.Result{
		Entities:   []extraction.Entity{{Name: "Ana", Kind: "person", Salience: 0.9}},
		Confidence: 0.9,
	}
	r.graph.entityExpansion = &graph.Expansion{
		Memories: []graph.LinkedMemory{{MemoryID: graphID, Weight: 0.8, HopDistance: 1}},
	}

	// No vector hits and no seed expansion needed: the entities named in
	// the query drive the graph walk directly.
	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "where does Ana live", TopK: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"Ana"}, r.graph.gotEntities)
	require.Nil(t, r.graph.gotSeeds)
	require.Len(t, res.Items, 1)
	require.Equal(t, graphID, res.Items[0].MemoryID)
}

func TestSearchAppliesRelationshipScore(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	warm := r.addCommitted(t, "owner-1", "dinner with ana", 0.8)
	cold := r.addCommitted(t, "owner-1", "argument with landlord", -0.6)
	r.index.hits = []searchindex.Hit{
		{MemoryID: warm, Content: "dinner with ana", Similarity: 0.5, Sentiment: 0.8, CreationTime: now.AddDate(0, 0, -40)},
		{MemoryID: cold, Content: "argument with landlord", Similarity: 0.5, Sentiment: -0.6, CreationTime: now.AddDate(0, 0, -40)},
	}

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "ana", RelationshipScore: 0.5, TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	byID := map[string]model.RetrievedItem{}
	for _, it := range res.Items {
		byID[it.MemoryID] = it
	}
	// Only the positively-toned candidate earns the relationship component.
	require.InDelta(t, 0.5, byID[warm].RelationshipBonus, 1e-9)
	require.Zero(t, byID[cold].RelationshipBonus)
	require.InDelta(t, 0.2*0.5, byID[warm].Score-byID[cold].Score, 1e-6)
}

func TestSearchUnifiedVariantPrefersFresh(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	fresh := r.addCommitted(t, "owner-1", "new address", 0)
	old := r.addCommitted(t, "owner-1", "old address", 0)
	// The older memory wins on similarity plus recency alone; only the
	// unified boost tips the ordering toward the two-day-old memory.
	r.index.hits = []searchindex.Hit{
		{MemoryID: old, Similarity: 0.75, CreationTime: now.AddDate(0, 0, -90)},
		{MemoryID: fresh, Similarity: 0.5, CreationTime: now.AddDate(0, 0, -2)},
	}

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "address", TopK: 10, Unified: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, fresh, res.Items[0].MemoryID)
}

func TestSearchExcludesDeletedMemories(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	keep := r.addCommitted(t, "owner-1", "keep", 0)
	gone := r.addCommitted(t, "owner-1", "gone", 0)

	audit := &model.DeletionAudit{
		AuditID: uuid.New().String(), OwnerID: "owner-1",
		DeletionType: model.DeletionSelective, AffectedIDs: []string{gone},
		AffectedCount: 1, PayloadHash: "h", RequestedTime: now,
	}
	_, err := r.store.Audits().CreateWithLogicalDelete(ctx, audit)
	require.NoError(t, err)

	// The index still holds the deleted memory; the read path must drop it.
	r.index.hits = []searchindex.Hit{
		{MemoryID: gone, Content: "gone", Similarity: 0.99, CreationTime: now},
		{MemoryID: keep, Content: "keep", Similarity: 0.5, CreationTime: now},
	}

	res, err := r.eng.Search(ctx, Query{OwnerID: "owner-1", Text: "anything", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, keep, res.Items[0].MemoryID)
}

func TestSearchDegradesWhenVectorSourceFails(t *testing.T) {
	r := newRig(t)

	id := r.addCommitted(t, "owner-1", "likes jazz", 0.4)
	r.index.err = errors.New("index unavailable")
	r.graph.expansion = &graph.Expansion{
		Memories: []graph.LinkedMemory{{MemoryID: id, Weight: 0.6, HopDistance: 1}},
	}

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "music", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, id, res.Items[0].MemoryID)
	// Expansion was seeded from the owner's recent memories instead.
	require.NotEmpty(t, r.graph.gotSeeds)
}

func TestSearchDegradesWhenGraphSourceFails(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	id := r.addCommitted(t, "owner-1", "likes jazz", 0.4)
	r.index.hits = []searchindex.Hit{{MemoryID: id, Content: "likes jazz", Similarity: 0.8, CreationTime: now}}
	r.graph.err = errors.New("bolt connection refused")

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "music", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Empty(t, res.GraphFacts)
	require.Zero(t, res.Items[0].EdgeWeight)
}

func TestSearchDegradesWhenExtractionFails(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	id := r.addCommitted(t, "owner-1", "likes jazz", 0.4)
	r.index.hits = []searchindex.Hit{{MemoryID: id, Content: "likes jazz", Similarity: 0.8, CreationTime: now}}
	r.ext.err = errors.New("ollama generate status 503")

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "music", TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
}

func TestSearchEmptyCorpus(t *testing.T) {
	r := newRig(t)

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "anything", TopK: 10})
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.Empty(t, res.GraphFacts)
}

func TestSearchHonorsTopK(t *testing.T) {
	r := newRig(t)
	now := time.Now().UTC()

	var hits []searchindex.Hit
	for i := 0; i < 5; i++ {
		id := r.addCommitted(t, "owner-1", "m", 0)
		hits = append(hits, searchindex.Hit{MemoryID: id, Similarity: 0.5, CreationTime: now})
	}
	r.index.hits = hits

	res, err := r.eng.Search(context.Background(), Query{OwnerID: "owner-1", Text: "m", TopK: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
}
