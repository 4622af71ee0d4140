// Package postgres opens the database and manages the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// schema is idempotent and applied at startup. Migrations graduate to a
// dedicated tool once the schema stops being append-only.
const schema = `
CREATE TABLE IF NOT EXISTS filings (
	id               UUID PRIMARY KEY,
	user_id          UUID NOT NULL,
	assessment_year  TEXT NOT NULL,
	taxpayer_pan     TEXT NOT NULL,
	form_type        TEXT NOT NULL,
	payload          JSONB,
	lifecycle_state  TEXT NOT NULL,
	legacy_status    TEXT NOT NULL,
	progress         INT NOT NULL DEFAULT 0,
	rejection_reason TEXT,
	correlation_id   TEXT UNIQUE,
	ack_number       TEXT,
	filed_at         TIMESTAMPTZ,
	filed_by         TEXT,
	reviewed_by      UUID,
	reviewed_at      TIMESTAMPTZ,
	approved_by      UUID,
	approved_at      TIMESTAMPTZ,
	idempotency_key  TEXT,
	version          BIGINT NOT NULL DEFAULT 1,
	last_updated     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_filings_user ON filings (user_id, assessment_year);
CREATE INDEX IF NOT EXISTS idx_filings_state ON filings (lifecycle_state, last_updated);
CREATE UNIQUE INDEX IF NOT EXISTS idx_filings_idempotency_key
	ON filings (idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor_id    TEXT,
	actor_role  TEXT,
	ip          TEXT,
	payload     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events (entity_type, entity_id, created_at);

CREATE TABLE IF NOT EXISTS audit_outbox (
	id           UUID PRIMARY KEY,
	event_id     UUID NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	action       TEXT NOT NULL,
	payload      JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// EnsureSchema creates the tables this service owns.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
