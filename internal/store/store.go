package store

import (
	"context"
	"time"

	"github.com/engram-io/engram/internal/model"
)

// Store exposes system-of-record persistence. Implementations live under
// internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Memories() Memories
	Outbox() Outbox
	Audits() Audits
	Ping(ctx context.Context) error
	Close() error
}

// Memories owns the Memory lifecycle. All read methods exclude rows with
// status deleted: logical deletion is binding from the instant of commit.
type Memories interface {
	// Create inserts the memory (status pending) and its outbox event
	// (status pending) in one local transaction. No cross-store calls.
	Create(ctx context.Context, m *model.Memory, ev *model.OutboxEvent) (*model.Memory, *model.OutboxEvent, error)

	GetByID(ctx context.Context, ownerID, memoryID string) (*model.Memory, error)
	GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Memory, error)
	List(ctx context.Context, ownerID string) ([]*model.Memory, error)

	// Commit flips pending -> committed. Rejected with
	// model.ErrCommitPrecondition unless the memory's upsert event reached a
	// terminal status (done or dlq). Idempotent for already-committed rows.
	Commit(ctx context.Context, memoryID string) error

	// SampleCommitted returns up to n committed memories for the auditor.
	SampleCommitted(ctx context.Context, n int) ([]*model.Memory, error)

	// VisibleStatuses returns status per id for rows that are not deleted.
	// Deleted and unknown ids are absent from the result.
	VisibleStatuses(ctx context.Context, ownerID string, ids []string) (map[string]model.MemoryStatus, error)

	// ListActiveIDs returns the non-deleted subset of ids, or every
	// non-deleted id for the owner when ids is empty.
	ListActiveIDs(ctx context.Context, ownerID string, ids []string) ([]string, error)

	// CountUndeleted reports how many of ids are still in a non-deleted
	// state (audit verification backstop).
	CountUndeleted(ctx context.Context, ownerID string, ids []string) (int, error)

	// Exists reports whether a row exists in any status (orphan checks).
	Exists(ctx context.Context, memoryID string) (bool, error)

	// HardDelete physically removes rows. Only the erasure reaper calls it.
	HardDelete(ctx context.Context, ownerID string, ids []string) error
}

// Outbox is the append-only fan-out queue. Events are never deleted; status
// transitions are conditional updates so they stay monotonic under
// concurrent workers.
type Outbox interface {
	// Enqueue inserts a ready event (synthetic repair jobs).
	Enqueue(ctx context.Context, ev *model.OutboxEvent) error

	// ClaimBatch atomically moves up to limit ready events from pending to
	// processing and returns them. An event claimed elsewhere is skipped.
	ClaimBatch(ctx context.Context, limit int) ([]*model.OutboxEvent, error)

	Get(ctx context.Context, eventID string) (*model.OutboxEvent, error)

	// MarkDone completes a processing event and stamps processed_time.
	MarkDone(ctx context.Context, eventID string) error

	// ScheduleRetry returns a processing event to pending with an increased
	// retry count and a future next-attempt time.
	ScheduleRetry(ctx context.Context, eventID string, next time.Time, cause string) error

	// MarkFailed records the terminal error on a processing event.
	MarkFailed(ctx context.Context, eventID string, cause string) error

	// MarkDLQ parks a failed event in the dead-letter queue.
	MarkDLQ(ctx context.Context, eventID string) error

	// Requeue is the operator path out of the DLQ: dlq -> pending with a
	// reset retry budget.
	Requeue(ctx context.Context, eventID string) error

	ListDLQ(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	CountDLQ(ctx context.Context) (int, error)

	// LagSamples returns created-to-processed durations for events processed
	// within the trailing window, newest first, capped at limit.
	LagSamples(ctx context.Context, window time.Duration, limit int) ([]time.Duration, error)
}

// Audits persists deletion audits.
type Audits interface {
	// CreateWithLogicalDelete flips the audit's affected memories to deleted
	// (skipping rows already deleted) and inserts the audit row in one
	// transaction.
	CreateWithLogicalDelete(ctx context.Context, a *model.DeletionAudit) (*model.DeletionAudit, error)

	Get(ctx context.Context, auditID string) (*model.DeletionAudit, error)

	// MarkCompleted signs the audit after physical deletion.
	MarkCompleted(ctx context.Context, auditID, signature string, completedAt time.Time) error

	// ListPendingRequestedBefore returns pending audits whose grace period
	// has elapsed, oldest first.
	ListPendingRequestedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeletionAudit, error)
}
