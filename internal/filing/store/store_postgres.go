package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"taxdesk/internal/filing/models"
	"taxdesk/pkg/platform/sentinel"
	txcontext "taxdesk/pkg/platform/tx"
)

// PostgresStore persists filings in the filings table. Version checks are
// embedded in the UPDATE predicate, so a stale writer loses the race at the
// database rather than in application code.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const filingColumns = `
	id, user_id, assessment_year, taxpayer_pan, form_type, payload,
	lifecycle_state, legacy_status, progress, rejection_reason,
	correlation_id, ack_number, filed_at, filed_by,
	reviewed_by, reviewed_at, approved_by, approved_at,
	idempotency_key, version, last_updated, created_at
`

func (s *PostgresStore) Create(ctx context.Context, rec *models.FilingRecord) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	rec.LegacyStatus = models.DeriveLegacyStatus(rec.LifecycleState)
	query := `
		INSERT INTO filings (` + filingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW(), NOW())
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.AssessmentYear, rec.TaxpayerPAN, rec.FormType, []byte(rec.Payload),
		string(rec.LifecycleState), string(rec.LegacyStatus), rec.Progress, nullString(rec.RejectionReason),
		nullString(rec.CorrelationID), nullString(rec.AckNumber), rec.FiledAt, nullString(rec.FiledBy),
		nullUUID(rec.ReviewedBy), rec.ReviewedAt, nullUUID(rec.ApprovedBy), rec.ApprovedAt,
		nullString(rec.IdempotencyKey), rec.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert filing: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.FilingRecord, error) {
	query := `SELECT ` + filingColumns + ` FROM filings WHERE id = $1`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByCorrelationID(ctx context.Context, correlationID string) (*models.FilingRecord, error) {
	query := `SELECT ` + filingColumns + ` FROM filings WHERE correlation_id = $1`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, correlationID))
}

func (s *PostgresStore) Update(ctx context.Context, rec *models.FilingRecord, expectedVersion int64) error {
	rec.LegacyStatus = models.DeriveLegacyStatus(rec.LifecycleState)
	query := `
		UPDATE filings SET
			payload = $2, lifecycle_state = $3, legacy_status = $4, progress = $5,
			rejection_reason = $6, correlation_id = $7, ack_number = $8,
			filed_at = $9, filed_by = $10, reviewed_by = $11, reviewed_at = $12,
			approved_by = $13, approved_at = $14, idempotency_key = $15,
			version = version + 1, last_updated = NOW()
		WHERE id = $1 AND version = $16
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ID, []byte(rec.Payload), string(rec.LifecycleState), string(rec.LegacyStatus), rec.Progress,
		nullString(rec.RejectionReason), nullString(rec.CorrelationID), nullString(rec.AckNumber),
		rec.FiledAt, nullString(rec.FiledBy), nullUUID(rec.ReviewedBy), rec.ReviewedAt,
		nullUUID(rec.ApprovedBy), rec.ApprovedAt, nullString(rec.IdempotencyKey),
		expectedVersion,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update filing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update filing rows affected: %w", err)
	}
	if affected == 0 {
		// Either the filing is gone or someone committed first. Distinguish
		// so callers surface the right error.
		if _, getErr := s.Get(ctx, rec.ID); getErr != nil {
			return getErr
		}
		return sentinel.ErrVersionMismatch
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListByState(ctx context.Context, state models.LifecycleState) ([]*models.FilingRecord, error) {
	query := `SELECT ` + filingColumns + ` FROM filings WHERE lifecycle_state = $1 ORDER BY last_updated ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("list filings by state: %w", err)
	}
	defer rows.Close()

	var out []*models.FilingRecord
	for rows.Next() {
		rec, err := scanFiling(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filings: %w", err)
	}
	return out, nil
}

// RunInTx opens a database transaction and propagates it via context. The
// filing id is not needed here; row-level serialization comes from the
// version predicate on Update.
func (s *PostgresStore) RunInTx(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.FilingRecord, error) {
	rec, err := scanFiling(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func scanFiling(row rowScanner) (*models.FilingRecord, error) {
	var (
		rec             models.FilingRecord
		payload         []byte
		rejectionReason sql.NullString
		correlationID   sql.NullString
		ackNumber       sql.NullString
		filedAt         sql.NullTime
		filedBy         sql.NullString
		reviewedBy      uuid.NullUUID
		reviewedAt      sql.NullTime
		approvedBy      uuid.NullUUID
		approvedAt      sql.NullTime
		idempotencyKey  sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.AssessmentYear, &rec.TaxpayerPAN, &rec.FormType, &payload,
		&rec.LifecycleState, &rec.LegacyStatus, &rec.Progress, &rejectionReason,
		&correlationID, &ackNumber, &filedAt, &filedBy,
		&reviewedBy, &reviewedAt, &approvedBy, &approvedAt,
		&idempotencyKey, &rec.Version, &rec.LastUpdated, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan filing: %w", err)
	}
	rec.Payload = payload
	rec.RejectionReason = rejectionReason.String
	rec.CorrelationID = correlationID.String
	rec.AckNumber = ackNumber.String
	rec.FiledBy = filedBy.String
	rec.IdempotencyKey = idempotencyKey.String
	if filedAt.Valid {
		rec.FiledAt = &filedAt.Time
	}
	if reviewedAt.Valid {
		rec.ReviewedAt = &reviewedAt.Time
	}
	if approvedAt.Valid {
		rec.ApprovedAt = &approvedAt.Time
	}
	if reviewedBy.Valid {
		rec.ReviewedBy = &reviewedBy.UUID
	}
	if approvedBy.Valid {
		rec.ApprovedBy = &approvedBy.UUID
	}
	return &rec, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
