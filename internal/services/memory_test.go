package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/idempotency"
	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
	"github.com/engram-io/engram/internal/store/sqlite"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type env struct {
	svc   *MemoryService
	store store.Store
	redis *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "engram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	guard := idempotency.New(rdb, time.Hour, zerolog.Nop())

	svc := NewMemoryService(s, guard, &stubEmbedder{vec: []float32{0.1, 0.2}}, zerolog.Nop())
	return &env{svc: svc, store: s, redis: mr}
}

func newMemory(key string) *model.Memory {
	return &model.Memory{
		OwnerID:        "owner-1",
		Content:        "adopted a cat named miso",
		Sentiment:      0.8,
		ObservedTime:   time.Now().UTC(),
		IdempotencyKey: key,
	}
}

func TestCreateMemoryWritesMemoryAndEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.CreateMemory(ctx, newMemory(""))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.NotEmpty(t, res.Memory.MemoryID)
	require.Equal(t, model.MemoryStatusPending, res.Memory.Status)
	require.Equal(t, []float32{0.1, 0.2}, res.Memory.Embedding)

	evs, err := e.store.Outbox().ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, model.OpUpsertMemory, evs[0].Op)
	require.Equal(t, res.Memory.MemoryID, evs[0].MemoryID)
	require.Equal(t, []float32{0.1, 0.2}, evs[0].Payload.Embedding)
}

func TestCreateMemoryDeduplicatesByKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.svc.CreateMemory(ctx, newMemory("req-1"))
	require.NoError(t, err)

	second, err := e.svc.CreateMemory(ctx, newMemory("req-1"))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Memory.MemoryID, second.Memory.MemoryID)

	// Only one memory and one event were written.
	list, err := e.store.Memories().List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCreateMemoryDuplicateCaughtByConstraintWhenGuardDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.svc.CreateMemory(ctx, newMemory("req-1"))
	require.NoError(t, err)

	// Guard store gone: the storage unique constraint is the safety net.
	e.redis.Close()

	second, err := e.svc.CreateMemory(ctx, newMemory("req-1"))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Memory.MemoryID, second.Memory.MemoryID)
}

func TestCreateMemoryValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m := newMemory("")
	m.Content = "  "
	_, err := e.svc.CreateMemory(ctx, m)
	require.ErrorIs(t, err, model.ErrValidation)

	m = newMemory("")
	m.OwnerID = ""
	_, err = e.svc.CreateMemory(ctx, m)
	require.ErrorIs(t, err, model.ErrValidation)

	m = newMemory("")
	m.Sentiment = 1.5
	_, err = e.svc.CreateMemory(ctx, m)
	require.ErrorIs(t, err, model.ErrValidation)

	m = newMemory("")
	m.ObservedTime = time.Time{}
	_, err = e.svc.CreateMemory(ctx, m)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateMemoryReleasesGuardOnFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	failing := NewMemoryService(e.store,
		idempotency.New(redis.NewClient(&redis.Options{Addr: e.redis.Addr()}), time.Hour, zerolog.Nop()),
		&stubEmbedder{err: errors.New("embedder down")}, zerolog.Nop())

	// Zero-vector fallback is wired at composition time; a bare provider
	// error here must release the key so the client can retry.
	_, err := failing.CreateMemory(ctx, newMemory("req-1"))
	require.Error(t, err)

	res, err := e.svc.CreateMemory(ctx, newMemory("req-1"))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
}

func TestGetAndListMemories(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.svc.CreateMemory(ctx, newMemory(""))
	require.NoError(t, err)

	got, err := e.svc.GetMemory(ctx, "owner-1", created.Memory.MemoryID)
	require.NoError(t, err)
	require.Equal(t, created.Memory.Content, got.Content)

	list, err := e.svc.ListMemories(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = e.svc.GetMemory(ctx, "owner-2", created.Memory.MemoryID)
	require.ErrorIs(t, err, model.ErrNotFound)
}
