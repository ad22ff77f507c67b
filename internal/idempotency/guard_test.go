package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour, zerolog.Nop()), mr
}

func TestAcquireFirstRequestIsNew(t *testing.T) {
	g, _ := newGuard(t)

	acq, err := g.Acquire(context.Background(), "owner-1", "req-1")
	require.NoError(t, err)
	require.True(t, acq.IsNew)
	require.Empty(t, acq.MemoryID)
}

func TestAcquireDuplicateInFlight(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)

	// Original not resolved yet: duplicate sees no memory id.
	acq, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	require.False(t, acq.IsNew)
	require.Empty(t, acq.MemoryID)
}

func TestAcquireDuplicateAfterResolve(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	g.MarkResolved(ctx, "owner-1", "req-1", "mem-42")

	acq, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	require.False(t, acq.IsNew)
	require.Equal(t, "mem-42", acq.MemoryID)
}

func TestKeysAreScopedPerOwner(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)

	acq, err := g.Acquire(ctx, "owner-2", "req-1")
	require.NoError(t, err)
	require.True(t, acq.IsNew)
}

func TestReleaseAllowsRetry(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	g.Release(ctx, "owner-1", "req-1")

	acq, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	require.True(t, acq.IsNew)
}

func TestReservationExpires(t *testing.T) {
	g, mr := newGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	acq, err := g.Acquire(ctx, "owner-1", "req-1")
	require.NoError(t, err)
	require.True(t, acq.IsNew)
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	g := New(rdb, time.Hour, zerolog.Nop())
	mr.Close()

	acq, err := g.Acquire(context.Background(), "owner-1", "req-1")
	require.NoError(t, err)
	require.True(t, acq.IsNew)
}
