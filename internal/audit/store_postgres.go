package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	txcontext "taxdesk/pkg/platform/tx"
)

// PostgresStore persists audit events in the audit_events table and mirrors
// each row into the outbox so the Kafka relay can publish it. Both inserts
// join the caller's transaction when one is present in context, which keeps
// an audit event inseparable from the state change that produced it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte(`{}`)
	}

	exec := s.execer(ctx)

	const insertEvent = `
		INSERT INTO audit_events (id, entity_type, entity_id, action, actor_id, actor_role, payload, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := exec.ExecContext(ctx, insertEvent,
		event.ID,
		string(event.EntityType),
		event.EntityID,
		string(event.Action),
		nullString(event.ActorID),
		string(event.ActorRole),
		[]byte(event.Payload),
		nullString(event.IP),
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	const insertOutbox = `
		INSERT INTO audit_outbox (id, event_id, entity_type, entity_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := exec.ExecContext(ctx, insertOutbox,
		uuid.New(),
		event.ID,
		string(event.EntityType),
		event.EntityID,
		string(event.Action),
		[]byte(event.Payload),
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert audit outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Event, error) {
	const query = `
		SELECT id, entity_type, entity_id, action, actor_id, actor_role, payload, ip, created_at
		FROM audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			actorID sql.NullString
			ip      sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.EntityType,
			&event.EntityID,
			&event.Action,
			&actorID,
			&event.ActorRole,
			(*[]byte)(&event.Payload),
			&ip,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ActorID = actorID.String
		event.IP = ip.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
