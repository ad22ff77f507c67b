package erasure

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/graph"
	"github.com/engram-io/engram/internal/metrics"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/searchindex"
	"github.com/engram-io/engram/internal/store"
	"github.com/engram-io/engram/internal/store/sqlite"
)

type memGraph struct {
	mu     sync.Mutex
	ids    map[string]string // memoryID -> ownerID
	pruned []string          // owners passed to PruneEntities
}

func (g *memGraph) UpsertMemory(ctx context.Context, node graph.MemoryNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids[node.MemoryID] = node.OwnerID
	return nil
}
func (g *memGraph) UpsertEntity(ctx context.Context, ownerID, name, kind string) error { return nil }
func (g *memGraph) LinkMention(ctx context.Context, memoryID, ownerID, entity string) error {
	return nil
}
func (g *memGraph) UpsertRelation(ctx context.Context, edge graph.RelationEdge) error { return nil }
func (g *memGraph) HasMemory(ctx context.Context, memoryID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[memoryID]
	return ok, nil
}
func (g *memGraph) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) { return nil, nil }
func (g *memGraph) Expand(ctx context.Context, ownerID string, seeds []string, maxHops, limit int) (*graph.Expansion, error) {
	return &graph.Expansion{}, nil
}
func (g *memGraph) DeleteMemory(ctx context.Context, memoryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, memoryID)
	return nil
}
func (g *memGraph) ExpandFromEntities(ctx context.Context, ownerID string, entities []string, maxHops, limit int) (*graph.Expansion, error) {
	return &graph.Expansion{}, nil
}
func (g *memGraph) RecentEntities(ctx context.Context, ownerID string, n int) ([]string, error) {
	return nil, nil
}
func (g *memGraph) PruneEntities(ctx context.Context, ownerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruned = append(g.pruned, ownerID)
	return nil
}
func (g *memGraph) Ping(ctx context.Context) error  { return nil }
func (g *memGraph) Close(ctx context.Context) error { return nil }

type memIndex struct {
	mu  sync.Mutex
	ids map[string]string // memoryID -> ownerID
}

func (i *memIndex) Upsert(ctx context.Context, doc searchindex.MemoryDoc, vec []float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids[doc.MemoryID] = doc.OwnerID
	return nil
}
func (i *memIndex) Search(ctx context.Context, ownerID string, vec []float32, topK int) ([]searchindex.Hit, error) {
	return nil, nil
}
func (i *memIndex) Exists(ctx context.Context, memoryID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.ids[memoryID]
	return ok, nil
}
func (i *memIndex) SampleMemoryIDs(ctx context.Context, n int) ([]string, error) { return nil, nil }
func (i *memIndex) Delete(ctx context.Context, memoryID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.ids, memoryID)
	return nil
}
func (i *memIndex) Ping(ctx context.Context) error { return nil }

type fixture struct {
	store store.Store
	graph *memGraph
	index *memIndex
	mgr   *Manager
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "engram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	g := &memGraph{ids: map[string]string{}}
	idx := &memIndex{ids: map[string]string{}}
	m := metrics.New("test", prometheus.NewRegistry())
	cfg := Config{Secret: secret, GracePeriod: grace, SLA: 96 * time.Hour}
	return &fixture{store: s, graph: g, index: idx, mgr: NewManager(s, g, idx, cfg, m, zerolog.Nop())}
}

// addProjected creates a committed memory present in both derived stores.
func (f *fixture) addProjected(t *testing.T, owner string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()
	now := time.Now().UTC()
	m := &model.Memory{MemoryID: id, OwnerID: owner, Content: "c", ObservedTime: now}
	ev := &model.OutboxEvent{
		EventID: uuid.New().String(), MemoryID: id, Op: model.OpUpsertMemory,
		Payload: model.EventPayload{OwnerID: owner, Content: "c", ObservedTime: now},
	}
	_, _, err := f.store.Memories().Create(ctx, m, ev)
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, searchindex.MemoryDoc{MemoryID: id, OwnerID: owner}, nil))
	require.NoError(t, f.graph.UpsertMemory(ctx, graph.MemoryNode{MemoryID: id, OwnerID: owner}))
	return id
}

func TestRequestDeletionHidesImmediately(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()

	id := f.addProjected(t, "owner-1")
	keep := f.addProjected(t, "owner-1")

	audit, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionSelective, []string{id})
	require.NoError(t, err)
	require.Equal(t, model.AuditStatusPending, audit.Status)
	require.Equal(t, []string{id}, audit.AffectedIDs)
	require.NotEmpty(t, audit.PayloadHash)
	require.Empty(t, audit.Signature)

	// Hidden from reads at once, though the row survives the grace period.
	_, err = f.store.Memories().GetByID(ctx, "owner-1", id)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.store.Memories().GetByID(ctx, "owner-1", keep)
	require.NoError(t, err)
	ok, err := f.store.Memories().Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRequestDeletionValidation(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()

	_, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionSelective, nil)
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionType("partial"), nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestReaperWaitsForGracePeriod(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()

	id := f.addProjected(t, "owner-1")
	_, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionSelective, []string{id})
	require.NoError(t, err)

	require.NoError(t, f.mgr.ReapOnce(ctx))

	// Within grace: nothing physically deleted.
	ok, err := f.store.Memories().Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.index.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReaperDeletesAndSeals(t *testing.T) {
	f := newFixture(t, 0) // grace elapsed immediately
	ctx := context.Background()

	id := f.addProjected(t, "owner-1")
	audit, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionSelective, []string{id})
	require.NoError(t, err)

	require.NoError(t, f.mgr.ReapOnce(ctx))

	ok, err := f.store.Memories().Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = f.index.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = f.graph.HasMemory(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	sealed, err := f.mgr.GetAudit(ctx, audit.AuditID)
	require.NoError(t, err)
	require.Equal(t, model.AuditStatusCompleted, sealed.Status)
	require.NotEmpty(t, sealed.Signature)
	require.NotNil(t, sealed.CompletedTime)

	res, err := f.mgr.Verify(ctx, audit.AuditID, "")
	require.NoError(t, err)
	require.True(t, res.SignatureValid)
	require.Zero(t, res.UndeletedCount)
	require.True(t, res.Valid)

	// A caller presenting the receipt's signature gets the same verdict; a
	// tampered one does not.
	res, err = f.mgr.Verify(ctx, audit.AuditID, sealed.Signature)
	require.NoError(t, err)
	require.True(t, res.Valid)
	res, err = f.mgr.Verify(ctx, audit.AuditID, sealed.Signature[:len(sealed.Signature)-2]+"ff")
	require.NoError(t, err)
	require.False(t, res.SignatureValid)
	require.False(t, res.Valid)
}

func TestFullDeletionRemovesWholeOwner(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a := f.addProjected(t, "owner-1")
	b := f.addProjected(t, "owner-1")
	other := f.addProjected(t, "owner-2")

	audit, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionFull, nil)
	require.NoError(t, err)
	require.Equal(t, 2, audit.AffectedCount)

	require.NoError(t, f.mgr.ReapOnce(ctx))

	for _, id := range []string{a, b} {
		ok, err := f.store.Memories().Exists(ctx, id)
		require.NoError(t, err)
		require.False(t, ok)
	}
	ok, err := f.store.Memories().Exists(ctx, other)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.index.Exists(ctx, other)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{"owner-1"}, f.graph.pruned)

	res, err := f.mgr.Verify(ctx, audit.AuditID, "")
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestFullDeletionSparesPostRequestMemories(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	old := f.addProjected(t, "owner-1")
	_, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionFull, nil)
	require.NoError(t, err)

	// Written after the request, so outside the audit's affected set.
	newer := f.addProjected(t, "owner-1")

	require.NoError(t, f.mgr.ReapOnce(ctx))

	ok, err := f.store.Memories().Exists(ctx, old)
	require.NoError(t, err)
	require.False(t, ok)
	for _, probe := range []func(context.Context, string) (bool, error){
		f.store.Memories().Exists, f.index.Exists, f.graph.HasMemory,
	} {
		ok, err := probe(ctx, newer)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestVerifyFlagsTamperedReceipt(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	id := f.addProjected(t, "owner-1")
	audit, err := f.mgr.RequestDeletion(ctx, "owner-1", model.DeletionSelective, []string{id})
	require.NoError(t, err)
	require.NoError(t, f.mgr.ReapOnce(ctx))

	// A manager holding a different secret cannot validate the receipt.
	tampered := NewManager(f.store, f.graph, f.index,
		Config{Secret: []byte("wrong"), GracePeriod: 0, SLA: time.Hour},
		metrics.New("test2", prometheus.NewRegistry()), zerolog.Nop())
	res, err := tampered.Verify(ctx, audit.AuditID, "")
	require.NoError(t, err)
	require.False(t, res.SignatureValid)
	require.False(t, res.Valid)
}
