package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// New opens the file, ensures the schema, and returns a store.
func New(ctx context.Context, path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB constructs a sqlite store backed by an existing connection.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Memories() store.Memories { return &memories{db: s.db} }
func (s *sqliteStore) Outbox() store.Outbox     { return &outbox{db: s.db} }
func (s *sqliteStore) Audits() store.Audits     { return &audits{db: s.db} }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqliteStore) Close() error                   { return s.db.Close() }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
            memory_id       TEXT PRIMARY KEY,
            owner_id        TEXT NOT NULL,
            content         TEXT NOT NULL,
            embedding       TEXT,
            sentiment       REAL NOT NULL DEFAULT 0,
            status          TEXT NOT NULL DEFAULT 'pending',
            idempotency_key TEXT,
            creation_time   TEXT NOT NULL,
            observed_time   TEXT NOT NULL,
            commit_time     TEXT
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_owner_idem
            ON memories (owner_id, idempotency_key)
            WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_status
            ON memories (owner_id, status)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
            event_id          TEXT PRIMARY KEY,
            memory_id         TEXT NOT NULL,
            op                TEXT NOT NULL,
            payload           TEXT NOT NULL,
            status            TEXT NOT NULL DEFAULT 'pending',
            retry_count       INTEGER NOT NULL DEFAULT 0,
            error             TEXT,
            creation_time     TEXT NOT NULL,
            processed_time    TEXT,
            next_attempt_time TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_ready
            ON outbox_events (status, next_attempt_time)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_memory
            ON outbox_events (memory_id)`,
		`CREATE TABLE IF NOT EXISTS deletion_audits (
            audit_id       TEXT PRIMARY KEY,
            owner_id       TEXT NOT NULL,
            deletion_type  TEXT NOT NULL,
            affected_ids   TEXT NOT NULL,
            affected_count INTEGER NOT NULL,
            payload_hash   TEXT NOT NULL,
            signature      TEXT,
            status         TEXT NOT NULL DEFAULT 'pending',
            requested_time TEXT NOT NULL,
            completed_time TEXT
        )`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pending
            ON deletion_audits (status, requested_time)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ownerID string, ids []string) []interface{} {
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

// --- Memories ---

type memories struct{ db *sql.DB }

const memoryColumns = `memory_id, owner_id, content, embedding, sentiment, status, idempotency_key, creation_time, observed_time, commit_time`

func (m *memories) Create(ctx context.Context, mm *model.Memory, ev *model.OutboxEvent) (*model.Memory, *model.OutboxEvent, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	embJSON, err := json.Marshal(mm.Embedding)
	if err != nil {
		return nil, nil, err
	}
	var idemKey interface{}
	if mm.IdempotencyKey != "" {
		idemKey = mm.IdempotencyKey
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO memories (memory_id, owner_id, content, embedding, sentiment, status, idempotency_key, creation_time, observed_time)
        VALUES (?,?,?,?,?,'pending',?,?,?)
    `, mm.MemoryID, mm.OwnerID, mm.Content, string(embJSON), mm.Sentiment, idemKey,
		encodeTime(now), encodeTime(mm.ObservedTime))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, model.ErrDuplicateIdempotencyKey
		}
		return nil, nil, err
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO outbox_events (event_id, memory_id, op, payload, status, creation_time, next_attempt_time)
        VALUES (?,?,?,?,'pending',?,?)
    `, ev.EventID, ev.MemoryID, string(ev.Op), string(payload), encodeTime(now), encodeTime(now))
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	outM := *mm
	outM.Status = model.MemoryStatusPending
	outM.CreationTime = now
	outE := *ev
	outE.Status = model.EventStatusPending
	outE.CreationTime = now
	outE.NextAttemptTime = now
	return &outM, &outE, nil
}

func (m *memories) GetByID(ctx context.Context, ownerID, memoryID string) (*model.Memory, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=? AND memory_id=? AND status <> 'deleted'
    `, ownerID, memoryID)
	return scanMemory(row)
}

func (m *memories) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Memory, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=? AND idempotency_key=? AND status <> 'deleted'
    `, ownerID, key)
	return scanMemory(row)
}

func (m *memories) List(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=? AND status <> 'deleted'
        ORDER BY creation_time DESC
    `, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMemories(rows)
}

func (m *memories) Commit(ctx context.Context, memoryID string) error {
	res, err := m.db.ExecContext(ctx, `
        UPDATE memories SET status='committed', commit_time=?
        WHERE memory_id=? AND status='pending'
          AND EXISTS (
            SELECT 1 FROM outbox_events
            WHERE memory_id=memories.memory_id AND op='upsert_memory' AND status IN ('done','dlq')
          )
    `, encodeTime(time.Now().UTC()), memoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var status string
	err = m.db.QueryRowContext(ctx, `SELECT status FROM memories WHERE memory_id=?`, memoryID).Scan(&status)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == string(model.MemoryStatusCommitted) {
		return nil
	}
	return model.ErrCommitPrecondition
}

func (m *memories) SampleCommitted(ctx context.Context, n int) ([]*model.Memory, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE status='committed'
        ORDER BY random() LIMIT ?
    `, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMemories(rows)
}

func (m *memories) VisibleStatuses(ctx context.Context, ownerID string, ids []string) (map[string]model.MemoryStatus, error) {
	if len(ids) == 0 {
		return map[string]model.MemoryStatus{}, nil
	}
	rows, err := m.db.QueryContext(ctx, `
        SELECT memory_id, status FROM memories
        WHERE owner_id=? AND status <> 'deleted' AND memory_id IN (`+placeholders(len(ids))+`)
    `, toArgs(ownerID, ids)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]model.MemoryStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = model.MemoryStatus(status)
	}
	return out, rows.Err()
}

func (m *memories) ListActiveIDs(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if len(ids) == 0 {
		rows, err = m.db.QueryContext(ctx, `
            SELECT memory_id FROM memories
            WHERE owner_id=? AND status <> 'deleted'
            ORDER BY creation_time ASC
        `, ownerID)
	} else {
		rows, err = m.db.QueryContext(ctx, `
            SELECT memory_id FROM memories
            WHERE owner_id=? AND status <> 'deleted' AND memory_id IN (`+placeholders(len(ids))+`)
            ORDER BY creation_time ASC
        `, toArgs(ownerID, ids)...)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (m *memories) CountUndeleted(ctx context.Context, ownerID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := m.db.QueryRowContext(ctx, `
        SELECT count(*) FROM memories
        WHERE owner_id=? AND status <> 'deleted' AND memory_id IN (`+placeholders(len(ids))+`)
    `, toArgs(ownerID, ids)...).Scan(&n)
	return n, err
}

func (m *memories) Exists(ctx context.Context, memoryID string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE memory_id=?`, memoryID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *memories) HardDelete(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.db.ExecContext(ctx, `
        DELETE FROM memories
        WHERE owner_id=? AND memory_id IN (`+placeholders(len(ids))+`)
    `, toArgs(ownerID, ids)...)
	return err
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanMemoryFields(sc rowScanner) (*model.Memory, error) {
	var out model.Memory
	var embJSON sql.NullString
	var idemKey sql.NullString
	var created, observed string
	var commitTime sql.NullString
	err := sc.Scan(&out.MemoryID, &out.OwnerID, &out.Content, &embJSON, &out.Sentiment,
		&out.Status, &idemKey, &created, &observed, &commitTime)
	if err != nil {
		return nil, err
	}
	if embJSON.Valid && embJSON.String != "" {
		_ = json.Unmarshal([]byte(embJSON.String), &out.Embedding)
	}
	out.IdempotencyKey = idemKey.String
	if out.CreationTime, err = decodeTime(created); err != nil {
		return nil, err
	}
	if out.ObservedTime, err = decodeTime(observed); err != nil {
		return nil, err
	}
	if commitTime.Valid {
		t, err := decodeTime(commitTime.String)
		if err != nil {
			return nil, err
		}
		out.CommitTime = &t
	}
	return &out, nil
}

func scanMemory(row *sql.Row) (*model.Memory, error) {
	mm, err := scanMemoryFields(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return mm, err
}

func scanMemories(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		mm, err := scanMemoryFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

// --- Outbox ---

type outbox struct{ db *sql.DB }

const eventColumns = `event_id, memory_id, op, payload, status, retry_count, error, creation_time, processed_time, next_attempt_time`

func (o *outbox) Enqueue(ctx context.Context, ev *model.OutboxEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	now := encodeTime(time.Now().UTC())
	_, err = o.db.ExecContext(ctx, `
        INSERT INTO outbox_events (event_id, memory_id, op, payload, status, creation_time, next_attempt_time)
        VALUES (?,?,?,?,'pending',?,?)
    `, ev.EventID, ev.MemoryID, string(ev.Op), string(payload), now, now)
	return err
}

// ClaimBatch selects ready candidates then flips each one conditionally.
// The single-connection pool serializes the transaction, so two workers
// cannot claim the same event.
func (o *outbox) ClaimBatch(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := encodeTime(time.Now().UTC())
	rows, err := tx.QueryContext(ctx, `
        SELECT event_id FROM outbox_events
        WHERE status='pending' AND next_attempt_time <= ?
        ORDER BY creation_time ASC LIMIT ?
    `, now, limit)
	if err != nil {
		return nil, err
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var claimed []string
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, `
            UPDATE outbox_events SET status='processing'
            WHERE event_id=? AND status='pending'
        `, id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	args := make([]interface{}, len(claimed))
	for i, id := range claimed {
		args[i] = id
	}
	evRows, err := tx.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM outbox_events
        WHERE event_id IN (`+placeholders(len(claimed))+`)
        ORDER BY creation_time ASC
    `, args...)
	if err != nil {
		return nil, err
	}
	evs, err := scanEvents(evRows)
	_ = evRows.Close()
	if err != nil {
		return nil, err
	}
	return evs, tx.Commit()
}

func (o *outbox) Get(ctx context.Context, eventID string) (*model.OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM outbox_events WHERE event_id=?
    `, eventID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	evs, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, model.ErrNotFound
	}
	return evs[0], nil
}

func (o *outbox) MarkDone(ctx context.Context, eventID string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events SET status='done', processed_time=?, error=NULL
        WHERE event_id=? AND status='processing'
    `, encodeTime(time.Now().UTC()), eventID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) ScheduleRetry(ctx context.Context, eventID string, next time.Time, cause string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status='pending', retry_count=retry_count+1, error=?, next_attempt_time=?
        WHERE event_id=? AND status='processing'
    `, truncateCause(cause), encodeTime(next), eventID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) MarkFailed(ctx context.Context, eventID string, cause string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events SET status='failed', error=?
        WHERE event_id=? AND status='processing'
    `, truncateCause(cause), eventID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) MarkDLQ(ctx context.Context, eventID string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events SET status='dlq', processed_time=?
        WHERE event_id=? AND status='failed'
    `, encodeTime(time.Now().UTC()), eventID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) Requeue(ctx context.Context, eventID string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status='pending', retry_count=0, error=NULL, next_attempt_time=?
        WHERE event_id=? AND status='dlq'
    `, encodeTime(time.Now().UTC()), eventID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func checkTransition(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrConflict
	}
	return nil
}

func (o *outbox) ListDLQ(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM outbox_events
        WHERE status='dlq' ORDER BY creation_time ASC LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (o *outbox) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox_events WHERE status='dlq'`).Scan(&n)
	return n, err
}

func (o *outbox) LagSamples(ctx context.Context, window time.Duration, limit int) ([]time.Duration, error) {
	cutoff := encodeTime(time.Now().UTC().Add(-window))
	rows, err := o.db.QueryContext(ctx, `
        SELECT creation_time, processed_time FROM outbox_events
        WHERE processed_time IS NOT NULL AND creation_time >= ?
        ORDER BY creation_time DESC LIMIT ?
    `, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []time.Duration
	for rows.Next() {
		var createdRaw, processedRaw string
		if err := rows.Scan(&createdRaw, &processedRaw); err != nil {
			return nil, err
		}
		created, err := decodeTime(createdRaw)
		if err != nil {
			return nil, err
		}
		processed, err := decodeTime(processedRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, processed.Sub(created))
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		var op, payload, created, nextAttempt string
		var errMsg sql.NullString
		var processed sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.MemoryID, &op, &payload, &ev.Status,
			&ev.RetryCount, &errMsg, &created, &processed, &nextAttempt); err != nil {
			return nil, err
		}
		ev.Op = model.EventOp(op)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("%w: event %s: %v", model.ErrMalformedPayload, ev.EventID, err)
		}
		if errMsg.Valid {
			s := errMsg.String
			ev.Error = &s
		}
		var err error
		if ev.CreationTime, err = decodeTime(created); err != nil {
			return nil, err
		}
		if ev.NextAttemptTime, err = decodeTime(nextAttempt); err != nil {
			return nil, err
		}
		if processed.Valid {
			t, err := decodeTime(processed.String)
			if err != nil {
				return nil, err
			}
			ev.ProcessedTime = &t
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func truncateCause(cause string) string {
	const max = 1024
	if len(cause) > max {
		return cause[:max]
	}
	return cause
}

// --- Audits ---

type audits struct{ db *sql.DB }

const auditColumns = `audit_id, owner_id, deletion_type, affected_ids, affected_count, payload_hash, signature, status, requested_time, completed_time`

func (a *audits) CreateWithLogicalDelete(ctx context.Context, da *model.DeletionAudit) (*model.DeletionAudit, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if len(da.AffectedIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
            UPDATE memories SET status='deleted'
            WHERE owner_id=? AND status <> 'deleted' AND memory_id IN (`+placeholders(len(da.AffectedIDs))+`)
        `, toArgs(da.OwnerID, da.AffectedIDs)...)
		if err != nil {
			return nil, err
		}
	}

	idsJSON, err := json.Marshal(da.AffectedIDs)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO deletion_audits (audit_id, owner_id, deletion_type, affected_ids, affected_count, payload_hash, status, requested_time)
        VALUES (?,?,?,?,?,?,'pending',?)
    `, da.AuditID, da.OwnerID, string(da.DeletionType), string(idsJSON), da.AffectedCount,
		da.PayloadHash, encodeTime(da.RequestedTime))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := *da
	out.Status = model.AuditStatusPending
	return &out, nil
}

func (a *audits) Get(ctx context.Context, auditID string) (*model.DeletionAudit, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT `+auditColumns+` FROM deletion_audits WHERE audit_id=?
    `, auditID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	list, err := scanAudits(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, model.ErrNotFound
	}
	return list[0], nil
}

func (a *audits) MarkCompleted(ctx context.Context, auditID, signature string, completedAt time.Time) error {
	res, err := a.db.ExecContext(ctx, `
        UPDATE deletion_audits SET status='completed', signature=?, completed_time=?
        WHERE audit_id=? AND status='pending'
    `, signature, encodeTime(completedAt), auditID)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (a *audits) ListPendingRequestedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeletionAudit, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT `+auditColumns+` FROM deletion_audits
        WHERE status='pending' AND requested_time <= ?
        ORDER BY requested_time ASC LIMIT ?
    `, encodeTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAudits(rows)
}

func scanAudits(rows *sql.Rows) ([]*model.DeletionAudit, error) {
	var out []*model.DeletionAudit
	for rows.Next() {
		var da model.DeletionAudit
		var dt, idsJSON, requested string
		var sig sql.NullString
		var completed sql.NullString
		if err := rows.Scan(&da.AuditID, &da.OwnerID, &dt, &idsJSON, &da.AffectedCount,
			&da.PayloadHash, &sig, &da.Status, &requested, &completed); err != nil {
			return nil, err
		}
		da.DeletionType = model.DeletionType(dt)
		_ = json.Unmarshal([]byte(idsJSON), &da.AffectedIDs)
		da.Signature = sig.String
		var err error
		if da.RequestedTime, err = decodeTime(requested); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := decodeTime(completed.String)
			if err != nil {
				return nil, err
			}
			da.CompletedTime = &t
		}
		out = append(out, &da)
	}
	return out, rows.Err()
}
