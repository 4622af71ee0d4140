// Package relay publishes audit outbox rows to Kafka. The outbox row and the
// audit event are written in the same transaction as the state change; the
// relay drains the outbox so downstream consumers (SIEM, compliance
// warehouse) see every event at least once, with the published flag keeping
// redelivery bounded to relay crashes.
package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher is the Kafka side of the relay.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Relay drains audit_outbox in insertion order.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func New(db *sql.DB, publisher Publisher, logger *slog.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	EntityType string
	EntityID   string
	Action     string
	Payload    []byte
	CreatedAt  time.Time
}

// DrainOnce publishes up to one batch of unpublished rows. Each row is marked
// published in its own transaction only after the broker acknowledged the
// record, so a crash between produce and mark causes a redelivery, never a
// loss.
func (r *Relay) DrainOnce(ctx context.Context) error {
	const selectBatch = `
		SELECT id, event_id, entity_type, entity_id, action, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, selectBatch, r.batchSize)
	if err != nil {
		return fmt.Errorf("select outbox batch: %w", err)
	}
	var batch []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.ID, &row.EventID, &row.EntityType, &row.EntityID, &row.Action, &row.Payload, &row.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}

	for _, row := range batch {
		value, err := json.Marshal(map[string]any{
			"id":          row.EventID.String(),
			"entity_type": row.EntityType,
			"entity_id":   row.EntityID,
			"action":      row.Action,
			"payload":     json.RawMessage(row.Payload),
			"occurred_at": row.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("marshal outbox record: %w", err)
		}
		if err := r.publisher.Publish(ctx, []byte(row.EntityID), value); err != nil {
			return err
		}
		const markPublished = `UPDATE audit_outbox SET published_at = NOW() WHERE id = $1`
		if _, err := r.db.ExecContext(ctx, markPublished, row.ID); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}
