package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/engram-io/engram/internal/model"
	"github.com/engram-io/engram/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens the database, ensures the schema, and returns a store.
func New(ctx context.Context, dsn string) (store.Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB constructs a Postgres store backed by an existing connection.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Memories() store.Memories { return &memories{db: s.db} }
func (s *pgStore) Outbox() store.Outbox     { return &outbox{db: s.db} }
func (s *pgStore) Audits() store.Audits     { return &audits{db: s.db} }

func (s *pgStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *pgStore) Close() error                   { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Memories ---

type memories struct{ db *sql.DB }

const memoryColumns = `memory_id, owner_id, content, embedding, sentiment, status, idempotency_key, creation_time, observed_time, commit_time`

func (m *memories) Create(ctx context.Context, mm *model.Memory, ev *model.OutboxEvent) (*model.Memory, *model.OutboxEvent, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	embJSON, err := json.Marshal(mm.Embedding)
	if err != nil {
		return nil, nil, err
	}
	var created time.Time
	err = tx.QueryRowContext(ctx, `
        INSERT INTO memories (memory_id, owner_id, content, embedding, sentiment, status, idempotency_key, observed_time)
        VALUES ($1,$2,$3,$4,$5,'pending',$6,$7)
        RETURNING creation_time
    `, mm.MemoryID, mm.OwnerID, mm.Content, embJSON, mm.Sentiment, nullIfEmptyString(mm.IdempotencyKey), mm.ObservedTime).Scan(&created)
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
	var evCreated time.Time
	err = tx.QueryRowContext(ctx, `
        INSERT INTO outbox_events (event_id, memory_id, op, payload, status, next_attempt_time)
        VALUES ($1,$2,$3,$4,'pending',now())
        RETURNING creation_time
    `, ev.EventID, ev.MemoryID, string(ev.Op), payload).Scan(&evCreated)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	outM := *mm
	outM.Status = model.MemoryStatusPending
	outM.CreationTime = created
	outE := *ev
	outE.Status = model.EventStatusPending
	outE.CreationTime = evCreated
	outE.NextAttemptTime = evCreated
	return &outM, &outE, nil
}

func (m *memories) GetByID(ctx context.Context, ownerID, memoryID string) (*model.Memory, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=$1 AND memory_id=$2 AND status <> 'deleted'
    `, ownerID, memoryID)
	return scanMemory(row)
}

func (m *memories) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*model.Memory, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=$1 AND idempotency_key=$2 AND status <> 'deleted'
    `, ownerID, key)
	return scanMemory(row)
}

func (m *memories) List(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+memoryColumns+` FROM memories
        WHERE owner_id=$1 AND status <> 'deleted'
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
        UPDATE memories SET status='committed', commit_time=now()
        WHERE memory_id=$1 AND status='pending'
          AND EXISTS (
            SELECT 1 FROM outbox_events
            WHERE memory_id=$1 AND op='upsert_memory' AND status IN ('done','dlq')
          )
    `, memoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Zero rows: diagnose. Committed already is fine; anything else is a
	// contract violation or a missing row.
	var status string
	err = m.db.QueryRowContext(ctx, `SELECT status FROM memories WHERE memory_id=$1`, memoryID).Scan(&status)
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
        ORDER BY random() LIMIT $1
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
	idsJSON, _ := json.Marshal(ids)
	rows, err := m.db.QueryContext(ctx, `
        SELECT memory_id, status FROM memories
        WHERE owner_id=$1 AND status <> 'deleted'
          AND memory_id IN (SELECT value FROM jsonb_array_elements_text($2::jsonb) AS t(value))
    `, ownerID, idsJSON)
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
            WHERE owner_id=$1 AND status <> 'deleted'
            ORDER BY creation_time ASC
        `, ownerID)
	} else {
		idsJSON, _ := json.Marshal(ids)
		rows, err = m.db.QueryContext(ctx, `
            SELECT memory_id FROM memories
            WHERE owner_id=$1 AND status <> 'deleted'
              AND memory_id IN (SELECT value FROM jsonb_array_elements_text($2::jsonb) AS t(value))
            ORDER BY creation_time ASC
        `, ownerID, idsJSON)
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
	idsJSON, _ := json.Marshal(ids)
	var n int
	err := m.db.QueryRowContext(ctx, `
        SELECT count(*) FROM memories
        WHERE owner_id=$1 AND status <> 'deleted'
          AND memory_id IN (SELECT value FROM jsonb_array_elements_text($2::jsonb) AS t(value))
    `, ownerID, idsJSON).Scan(&n)
	return n, err
}

func (m *memories) Exists(ctx context.Context, memoryID string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE memory_id=$1`, memoryID).Scan(&one)
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
	idsJSON, _ := json.Marshal(ids)
	_, err := m.db.ExecContext(ctx, `
        DELETE FROM memories
        WHERE owner_id=$1
          AND memory_id IN (SELECT value FROM jsonb_array_elements_text($2::jsonb) AS t(value))
    `, ownerID, idsJSON)
	return err
}

func scanMemory(row *sql.Row) (*model.Memory, error) {
	var out model.Memory
	var embJSON []byte
	var idemKey sql.NullString
	var commitTime sql.NullTime
	err := row.Scan(&out.MemoryID, &out.OwnerID, &out.Content, &embJSON, &out.Sentiment,
		&out.Status, &idemKey, &out.CreationTime, &out.ObservedTime, &commitTime)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(embJSON) > 0 {
		_ = json.Unmarshal(embJSON, &out.Embedding)
	}
	out.IdempotencyKey = idemKey.String
	if commitTime.Valid {
		t := commitTime.Time
		out.CommitTime = &t
	}
	return &out, nil
}

func scanMemories(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		var mm model.Memory
		var embJSON []byte
		var idemKey sql.NullString
		var commitTime sql.NullTime
		if err := rows.Scan(&mm.MemoryID, &mm.OwnerID, &mm.Content, &embJSON, &mm.Sentiment,
			&mm.Status, &idemKey, &mm.CreationTime, &mm.ObservedTime, &commitTime); err != nil {
			return nil, err
		}
		if len(embJSON) > 0 {
			_ = json.Unmarshal(embJSON, &mm.Embedding)
		}
		mm.IdempotencyKey = idemKey.String
		if commitTime.Valid {
			t := commitTime.Time
			mm.CommitTime = &t
		}
		out = append(out, &mm)
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
	_, err = o.db.ExecContext(ctx, `
        INSERT INTO outbox_events (event_id, memory_id, op, payload, status, next_attempt_time)
        VALUES ($1,$2,$3,$4,'pending',now())
    `, ev.EventID, ev.MemoryID, string(ev.Op), payload)
	return err
}

func (o *outbox) ClaimBatch(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
        UPDATE outbox_events SET status='processing'
        WHERE event_id IN (
            SELECT event_id FROM outbox_events
            WHERE status='pending' AND next_attempt_time <= now()
            ORDER BY creation_time ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $1
        )
        RETURNING `+eventColumns+`
    `, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (o *outbox) Get(ctx context.Context, eventID string) (*model.OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM outbox_events WHERE event_id=$1
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
	return o.transition(ctx, eventID, `
        UPDATE outbox_events SET status='done', processed_time=now(), error=NULL
        WHERE event_id=$1 AND status='processing'
    `)
}

func (o *outbox) ScheduleRetry(ctx context.Context, eventID string, next time.Time, cause string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status='pending', retry_count=retry_count+1, error=$2, next_attempt_time=$3
        WHERE event_id=$1 AND status='processing'
    `, eventID, truncateCause(cause), next)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) MarkFailed(ctx context.Context, eventID string, cause string) error {
	res, err := o.db.ExecContext(ctx, `
        UPDATE outbox_events SET status='failed', error=$2
        WHERE event_id=$1 AND status='processing'
    `, eventID, truncateCause(cause))
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (o *outbox) MarkDLQ(ctx context.Context, eventID string) error {
	return o.transition(ctx, eventID, `
        UPDATE outbox_events SET status='dlq', processed_time=now()
        WHERE event_id=$1 AND status='failed'
    `)
}

func (o *outbox) Requeue(ctx context.Context, eventID string) error {
	return o.transition(ctx, eventID, `
        UPDATE outbox_events
        SET status='pending', retry_count=0, error=NULL, next_attempt_time=now()
        WHERE event_id=$1 AND status='dlq'
    `)
}

func (o *outbox) transition(ctx context.Context, eventID, query string) error {
	res, err := o.db.ExecContext(ctx, query, eventID)
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
        WHERE status='dlq' ORDER BY creation_time ASC LIMIT $1
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
	cutoff := time.Now().UTC().Add(-window)
	rows, err := o.db.QueryContext(ctx, `
        SELECT creation_time, processed_time FROM outbox_events
        WHERE processed_time IS NOT NULL AND creation_time >= $1
        ORDER BY creation_time DESC LIMIT $2
    `, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []time.Duration
	for rows.Next() {
		var created, processed time.Time
		if err := rows.Scan(&created, &processed); err != nil {
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
		var op string
		var payload []byte
		var errMsg sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&ev.EventID, &ev.MemoryID, &op, &payload, &ev.Status,
			&ev.RetryCount, &errMsg, &ev.CreationTime, &processed, &ev.NextAttemptTime); err != nil {
			return nil, err
		}
		ev.Op = model.EventOp(op)
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("%w: event %s: %v", model.ErrMalformedPayload, ev.EventID, err)
		}
		if errMsg.Valid {
			s := errMsg.String
			ev.Error = &s
		}
		if processed.Valid {
			t := processed.Time
			ev.ProcessedTime = &t
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- Audits ---

type audits struct{ db *sql.DB }

const auditColumns = `audit_id, owner_id, deletion_type, affected_ids, affected_count, payload_hash, signature, status, requested_time, completed_time`

func (a *audits) CreateWithLogicalDelete(ctx context.Context, da *model.DeletionAudit) (*model.DeletionAudit, error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if len(da.AffectedIDs) > 0 {
		idsJSON, _ := json.Marshal(da.AffectedIDs)
		if _, err := tx.ExecContext(ctx, `
            UPDATE memories SET status='deleted'
            WHERE owner_id=$1 AND status <> 'deleted'
              AND memory_id IN (SELECT value FROM jsonb_array_elements_text($2::jsonb) AS t(value))
        `, da.OwnerID, idsJSON); err != nil {
			return nil, err
		}
	}

	idsJSON, err := json.Marshal(da.AffectedIDs)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO deletion_audits (audit_id, owner_id, deletion_type, affected_ids, affected_count, payload_hash, status, requested_time)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',$7)
    `, da.AuditID, da.OwnerID, string(da.DeletionType), idsJSON, da.AffectedCount, da.PayloadHash, da.RequestedTime); err != nil {
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
        SELECT `+auditColumns+` FROM deletion_audits WHERE audit_id=$1
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
        UPDATE deletion_audits SET status='completed', signature=$2, completed_time=$3
        WHERE audit_id=$1 AND status='pending'
    `, auditID, signature, completedAt)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (a *audits) ListPendingRequestedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeletionAudit, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT `+auditColumns+` FROM deletion_audits
        WHERE status='pending' AND requested_time <= $1
        ORDER BY requested_time ASC LIMIT $2
    `, cutoff, limit)
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
		var dt string
		var idsJSON []byte
		var sig sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&da.AuditID, &da.OwnerID, &dt, &idsJSON, &da.AffectedCount,
			&da.PayloadHash, &sig, &da.Status, &da.RequestedTime, &completed); err != nil {
			return nil, err
		}
		da.DeletionType = model.DeletionType(dt)
		if len(idsJSON) > 0 {
			_ = json.Unmarshal(idsJSON, &da.AffectedIDs)
		}
		da.Signature = sig.String
		if completed.Valid {
			t := completed.Time
			da.CompletedTime = &t
		}
		out = append(out, &da)
	}
	return out, rows.Err()
}

// helpers

func nullIfEmptyString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func truncateCause(cause string) string {
	const max = 1024
	if len(cause) > max {
		return cause[:max]
	}
	return cause
}
