package postgres

import (
	"context"
	"database/sql"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
        memory_id       UUID PRIMARY KEY,
        owner_id        TEXT NOT NULL,
        content         TEXT NOT NULL,
        embedding       JSONB,
        sentiment       DOUBLE PRECISION NOT NULL DEFAULT 0,
        status          TEXT NOT NULL DEFAULT 'pending',
        idempotency_key TEXT,
        creation_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
        observed_time   TIMESTAMPTZ NOT NULL,
        commit_time     TIMESTAMPTZ
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_owner_idem
        ON memories (owner_id, idempotency_key)
        WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_status
        ON memories (owner_id, status)`,

	`CREATE TABLE IF NOT EXISTS outbox_events (
        event_id          UUID PRIMARY KEY,
        memory_id         UUID NOT NULL,
        op                TEXT NOT NULL,
        payload           JSONB NOT NULL,
        status            TEXT NOT NULL DEFAULT 'pending',
        retry_count       INT NOT NULL DEFAULT 0,
        error             TEXT,
        creation_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
        processed_time    TIMESTAMPTZ,
        next_attempt_time TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_ready
        ON outbox_events (status, next_attempt_time)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_memory
        ON outbox_events (memory_id)`,

	`CREATE TABLE IF NOT EXISTS deletion_audits (
        audit_id       UUID PRIMARY KEY,
        owner_id       TEXT NOT NULL,
        deletion_type  TEXT NOT NULL,
        affected_ids   JSONB NOT NULL,
        affected_count INT NOT NULL,
        payload_hash   TEXT NOT NULL,
        signature      TEXT,
        status         TEXT NOT NULL DEFAULT 'pending',
        requested_time TIMESTAMPTZ NOT NULL,
        completed_time TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS idx_audits_pending
        ON deletion_audits (status, requested_time)`,
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
