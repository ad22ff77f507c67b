package outbox

import (
	"context"
	"sync"

	"github.com/engram-io/engram/internal/extraction"
	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/searchindex"
)

type fakeGraph struct {
	mu        sync.Mutex
	memories  map[string]graph.MemoryNode
	entities  map[string]string
	relations []graph.RelationEdge
	err       error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{memories: map[string]graph.MemoryNode{}, entities: map[string]string{}}
}

func (f *fakeGraph) UpsertMemory(ctx context.Context, node graph.MemoryNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.memories[node.MemoryID] = node
	return nil
}

func (f *fakeGraph) UpsertEntity(ctx context.Context, ownerID, name, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entities[name] = kind
	return nil
}

func (f *fakeGraph) LinkMention(ctx context.Context, memoryID, ownerID, entity string) error {
	return f.err
}

func (f *fakeGraph) UpsertRelation(ctx context.Context, edge graph.RelationEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.relations = append(f.relations, edge)
	return nil
}

func (f *fakeGraph) HasMemory(ctx context.Context, memoryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memories[memoryID]
	return ok, nil
}

func (f *fakeGraph) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.memories {
		if len(ids) == n {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeGraph) Expand(ctx context.Context, ownerID string, seedMemoryIDs []string, maxHops, limit int) (*graph.Expansion, error) {
	return &graph.Expansion{}, nil
}

func (f *fakeGraph) DeleteMemory(ctx context.Context, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memories, memoryID)
	return nil
}

func (f *fakeGraph) ExpandFromEntities(ctx context.Context, ownerID string, entities []string, maxHops, limit int) (*graph.Expansion, error) {
	return &graph.Expansion{}, nil
}

func (f *fakeGraph) RecentEntities(ctx context.Context, ownerID string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.entities {
		if len(names) == n {
			break
		}
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeGraph) PruneEntities(ctx context.Context, ownerID string) error { return nil }

func (f *fakeGraph) Ping(ctx context.Context) error  { return nil }
func (f *fakeGraph) Close(ctx context.Context) error { return nil }

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string]searchindex.MemoryDoc
	err  error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]searchindex.MemoryDoc{}}
}

func (f *fakeIndex) Upsert(ctx context.Context, doc searchindex.MemoryDoc, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs[doc.MemoryID] = doc
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, ownerID string, vec []float32, topK int) ([]searchindex.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) Exists(ctx context.Context, memoryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[memoryID]
	return ok, nil
}

func (f *fakeIndex) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.docs {
		if len(ids) == n {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeIndex) Delete(ctx context.Context, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, memoryID)
	return nil
}

func (f *fakeIndex) Ping(ctx context.Context) error { return nil }

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubExtractor struct {
	mu       sync.Mutex
	result   *extraction.Result
	err      error
	gotKnown []string
	gotOwner string
}

func (s *stubExtractor) ExtractFacts(ctx context.Context, text, ownerID string, knownEntities []string) (*extraction.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotOwner = ownerID
	s.gotKnown = knownEntities
	return s.result, s.err
}
