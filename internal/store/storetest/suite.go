// Package storetest runs one behavioral suite against every store driver so
// postgres and sqlite cannot drift apart on lifecycle semantics.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the driver compliance suite.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateWritesMemoryAndEventTogether", func(t *testing.T) { testCreate(t, factory(t)) })
	t.Run("IdempotencyKeyUniquePerOwner", func(t *testing.T) { testIdempotencyKey(t, factory(t)) })
	t.Run("CommitRequiresTerminalEvent", func(t *testing.T) { testCommitPrecondition(t, factory(t)) })
	t.Run("CommitAfterDLQ", func(t *testing.T) { testCommitAfterDLQ(t, factory(t)) })
	t.Run("ClaimBatchIsExclusive", func(t *testing.T) { testClaimExclusive(t, factory(t)) })
	t.Run("ClaimSkipsFutureAttempts", func(t *testing.T) { testClaimSkipsFuture(t, factory(t)) })
	t.Run("TransitionsAreMonotonic", func(t *testing.T) { testMonotonic(t, factory(t)) })
	t.Run("RetryAndRequeue", func(t *testing.T) { testRetryRequeue(t, factory(t)) })
	t.Run("LogicalDeleteHidesReads", func(t *testing.T) { testLogicalDelete(t, factory(t)) })
	t.Run("HardDeleteRemovesRows", func(t *testing.T) { testHardDelete(t, factory(t)) })
	t.Run("LagSamples", func(t *testing.T) { testLagSamples(t, factory(t)) })
	t.Run("AuditLifecycle", func(t *testing.T) { testAuditLifecycle(t, factory(t)) })
}

func newMemory(owner string) (*model.Memory, *model.OutboxEvent) {
	id := uuid.New().String()
	now := time.Now().UTC()
	m := &model.Memory{
		MemoryID:     id,
		OwnerID:      owner,
		Content:      "likes sailing on weekends",
		Embedding:    []float32{0.1, 0.2, 0.3},
		Sentiment:    0.6,
		ObservedTime: now,
	}
	ev := &model.OutboxEvent{
		EventID:  uuid.New().String(),
		MemoryID: id,
		Op:       model.OpUpsertMemory,
		Payload: model.EventPayload{
			OwnerID:      owner,
			Content:      m.Content,
			Embedding:    m.Embedding,
			Sentiment:    m.Sentiment,
			ObservedTime: now,
		},
	}
	return m, ev
}

func mustCreate(t *testing.T, s store.Store, owner string) (*model.Memory, *model.OutboxEvent) {
	t.Helper()
	m, ev := newMemory(owner)
	gotM, gotE, err := s.Memories().Create(context.Background(), m, ev)
	require.NoError(t, err)
	return gotM, gotE
}

func claimOne(t *testing.T, s store.Store, eventID string) *model.OutboxEvent {
	t.Helper()
	evs, err := s.Outbox().ClaimBatch(context.Background(), 100)
	require.NoError(t, err)
	for _, ev := range evs {
		if ev.EventID == eventID {
			return ev
		}
	}
	t.Fatalf("event %s not claimed", eventID)
	return nil
}

func testCreate(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m, ev := mustCreate(t, s, "owner-1")
	require.Equal(t, model.MemoryStatusPending, m.Status)
	require.Equal(t, model.EventStatusPending, ev.Status)
	require.False(t, m.CreationTime.IsZero())

	got, err := s.Memories().GetByID(ctx, "owner-1", m.MemoryID)
	require.NoError(t, err)
	require.Equal(t, m.Content, got.Content)
	require.Equal(t, model.MemoryStatusPending, got.Status)
	require.Len(t, got.Embedding, 3)

	gotEv, err := s.Outbox().Get(ctx, ev.EventID)
	require.NoError(t, err)
	require.Equal(t, model.OpUpsertMemory, gotEv.Op)
	require.Equal(t, m.MemoryID, gotEv.MemoryID)
	require.Equal(t, "owner-1", gotEv.Payload.OwnerID)

	_, err = s.Memories().GetByID(ctx, "owner-1", uuid.New().String())
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testIdempotencyKey(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m1, ev1 := newMemory("owner-1")
	m1.IdempotencyKey = "req-abc"
	_, _, err := s.Memories().Create(ctx, m1, ev1)
	require.NoError(t, err)

	m2, ev2 := newMemory("owner-1")
	m2.IdempotencyKey = "req-abc"
	_, _, err = s.Memories().Create(ctx, m2, ev2)
	require.ErrorIs(t, err, model.ErrDuplicateIdempotencyKey)

	// Same key under a different owner is fine.
	m3, ev3 := newMemory("owner-2")
	m3.IdempotencyKey = "req-abc"
	_, _, err = s.Memories().Create(ctx, m3, ev3)
	require.NoError(t, err)

	// Empty keys never collide.
	m4, ev4 := newMemory("owner-1")
	_, _, err = s.Memories().Create(ctx, m4, ev4)
	require.NoError(t, err)
	m5, ev5 := newMemory("owner-1")
	_, _, err = s.Memories().Create(ctx, m5, ev5)
	require.NoError(t, err)

	got, err := s.Memories().GetByIdempotencyKey(ctx, "owner-1", "req-abc")
	require.NoError(t, err)
	require.Equal(t, m1.MemoryID, got.MemoryID)
}

func testCommitPrecondition(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m, ev := mustCreate(t, s, "owner-1")

	err := s.Memories().Commit(ctx, m.MemoryID)
	require.ErrorIs(t, err, model.ErrCommitPrecondition)

	claimOne(t, s, ev.EventID)
	err = s.Memories().Commit(ctx, m.MemoryID)
	require.ErrorIs(t, err, model.ErrCommitPrecondition)

	require.NoError(t, s.Outbox().MarkDone(ctx, ev.EventID))
	require.NoError(t, s.Memories().Commit(ctx, m.MemoryID))

	got, err := s.Memories().GetByID(ctx, "owner-1", m.MemoryID)
	require.NoError(t, err)
	require.Equal(t, model.MemoryStatusCommitted, got.Status)
	require.NotNil(t, got.CommitTime)

	// Committing twice is a no-op.
	require.NoError(t, s.Memories().Commit(ctx, m.MemoryID))

	require.ErrorIs(t, s.Memories().Commit(ctx, uuid.New().String()), model.ErrNotFound)
}

func testCommitAfterDLQ(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m, ev := mustCreate(t, s, "owner-1")
	claimOne(t, s, ev.EventID)
	require.NoError(t, s.Outbox().MarkFailed(ctx, ev.EventID, "schema rejected"))
	require.NoError(t, s.Outbox().MarkDLQ(ctx, ev.EventID))

	// A dead-lettered event is terminal; the memory still commits.
	require.NoError(t, s.Memories().Commit(ctx, m.MemoryID))
}

func testClaimExclusive(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		_, ev := mustCreate(t, s, "owner-1")
		want = append(want, ev.EventID)
	}

	first, err := s.Outbox().ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 5)
	for _, ev := range first {
		require.Equal(t, model.EventStatusProcessing, ev.Status)
	}

	second, err := s.Outbox().ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, second)
	_ = want
}

func testClaimSkipsFuture(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, ev := mustCreate(t, s, "owner-1")
	claimOne(t, s, ev.EventID)
	require.NoError(t, s.Outbox().ScheduleRetry(ctx, ev.EventID, time.Now().UTC().Add(time.Hour), "graph down"))

	evs, err := s.Outbox().ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, evs)

	got, err := s.Outbox().Get(ctx, ev.EventID)
	require.NoError(t, err)
	require.Equal(t, model.EventStatusPending, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.Error)
}

func testMonotonic(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, ev := mustCreate(t, s, "owner-1")

	// Pending events cannot jump to done or failed.
	require.ErrorIs(t, s.Outbox().MarkDone(ctx, ev.EventID), model.ErrConflict)
	require.ErrorIs(t, s.Outbox().MarkFailed(ctx, ev.EventID, "x"), model.ErrConflict)
	require.ErrorIs(t, s.Outbox().MarkDLQ(ctx, ev.EventID), model.ErrConflict)

	claimOne(t, s, ev.EventID)
	require.NoError(t, s.Outbox().MarkDone(ctx, ev.EventID))

	// Done is terminal.
	require.ErrorIs(t, s.Outbox().MarkDone(ctx, ev.EventID), model.ErrConflict)
	require.ErrorIs(t, s.Outbox().MarkFailed(ctx, ev.EventID, "x"), model.ErrConflict)
	require.ErrorIs(t, s.Outbox().Requeue(ctx, ev.EventID), model.ErrConflict)

	got, err := s.Outbox().Get(ctx, ev.EventID)
	require.NoError(t, err)
	require.Equal(t, model.EventStatusDone, got.Status)
	require.NotNil(t, got.ProcessedTime)
}

func testRetryRequeue(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, ev := mustCreate(t, s, "owner-1")
	claimOne(t, s, ev.EventID)
	require.NoError(t, s.Outbox().ScheduleRetry(ctx, ev.EventID, time.Now().UTC().Add(-time.Second), "timeout"))

	claimOne(t, s, ev.EventID)
	require.NoError(t, s.Outbox().MarkFailed(ctx, ev.EventID, "retries exhausted"))
	require.NoError(t, s.Outbox().MarkDLQ(ctx, ev.EventID))

	dlq, err := s.Outbox().ListDLQ(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	n, err := s.Outbox().CountDLQ(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.Outbox().Requeue(ctx, ev.EventID))
	got, err := s.Outbox().Get(ctx, ev.EventID)
	require.NoError(t, err)
	require.Equal(t, model.EventStatusPending, got.Status)
	require.Equal(t, 0, got.RetryCount)
	require.Nil(t, got.Error)

	n, err = s.Outbox().CountDLQ(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testLogicalDelete(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m1, _ := mustCreate(t, s, "owner-1")
	m2, _ := mustCreate(t, s, "owner-1")
	m3, _ := mustCreate(t, s, "owner-1")

	audit := &model.DeletionAudit{
		AuditID:       uuid.New().String(),
		OwnerID:       "owner-1",
		DeletionType:  model.DeletionSelective,
		AffectedIDs:   []string{m1.MemoryID, m2.MemoryID},
		AffectedCount: 2,
		PayloadHash:   "deadbeef",
		RequestedTime: time.Now().UTC(),
	}
	_, err := s.Audits().CreateWithLogicalDelete(ctx, audit)
	require.NoError(t, err)

	_, err = s.Memories().GetByID(ctx, "owner-1", m1.MemoryID)
	require.ErrorIs(t, err, model.ErrNotFound)

	list, err := s.Memories().List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, m3.MemoryID, list[0].MemoryID)

	statuses, err := s.Memories().VisibleStatuses(ctx, "owner-1",
		[]string{m1.MemoryID, m2.MemoryID, m3.MemoryID})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Contains(t, statuses, m3.MemoryID)

	n, err := s.Memories().CountUndeleted(ctx, "owner-1", audit.AffectedIDs)
	require.NoError(t, err)
	require.Zero(t, n)

	active, err := s.Memories().ListActiveIDs(ctx, "owner-1", nil)
	require.NoError(t, err)
	require.Equal(t, []string{m3.MemoryID}, active)

	// Deleted rows still exist physically until the reaper runs.
	ok, err := s.Memories().Exists(ctx, m1.MemoryID)
	require.NoError(t, err)
	require.True(t, ok)
}

func testHardDelete(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m1, _ := mustCreate(t, s, "owner-1")
	m2, _ := mustCreate(t, s, "owner-1")

	require.NoError(t, s.Memories().HardDelete(ctx, "owner-1", []string{m1.MemoryID}))

	ok, err := s.Memories().Exists(ctx, m1.MemoryID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Memories().Exists(ctx, m2.MemoryID)
	require.NoError(t, err)
	require.True(t, ok)
}

func testLagSamples(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, ev := mustCreate(t, s, "owner-1")
		claimOne(t, s, ev.EventID)
		require.NoError(t, s.Outbox().MarkDone(ctx, ev.EventID))
	}
	// Unprocessed event must not contribute a sample.
	mustCreate(t, s, "owner-1")

	samples, err := s.Outbox().LagSamples(ctx, time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for _, d := range samples {
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, time.Minute)
	}

	none, err := s.Outbox().LagSamples(ctx, time.Nanosecond, 100)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testAuditLifecycle(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	m, _ := mustCreate(t, s, "owner-1")
	audit := &model.DeletionAudit{
		AuditID:       uuid.New().String(),
		OwnerID:       "owner-1",
		DeletionType:  model.DeletionFull,
		AffectedIDs:   []string{m.MemoryID},
		AffectedCount: 1,
		PayloadHash:   "cafe",
		RequestedTime: time.Now().UTC().Add(-80 * time.Hour),
	}
	created, err := s.Audits().CreateWithLogicalDelete(ctx, audit)
	require.NoError(t, err)
	require.Equal(t, model.AuditStatusPending, created.Status)

	due, err := s.Audits().ListPendingRequestedBefore(ctx, time.Now().UTC().Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, audit.AuditID, due[0].AuditID)

	completedAt := time.Now().UTC()
	require.NoError(t, s.Audits().MarkCompleted(ctx, audit.AuditID, "sig-hex", completedAt))

	got, err := s.Audits().Get(ctx, audit.AuditID)
	require.NoError(t, err)
	require.Equal(t, model.AuditStatusCompleted, got.Status)
	require.Equal(t, "sig-hex", got.Signature)
	require.NotNil(t, got.CompletedTime)
	require.Equal(t, []string{m.MemoryID}, got.AffectedIDs)

	// Completion is one-shot.
	require.ErrorIs(t, s.Audits().MarkCompleted(ctx, audit.AuditID, "other", completedAt), model.ErrConflict)

	due, err = s.Audits().ListPendingRequestedBefore(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	_, err = s.Audits().Get(ctx, uuid.New().String())
	require.ErrorIs(t, err, model.ErrNotFound)
}
