package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MaxUserHistoryLimit caps how many ledger rows a single user-history
// query may return.
const MaxUserHistoryLimit = 200

// ErrNotFound is returned when no ledger row exists for an id.
var ErrNotFound = errors.New("delivery record not found")

// Ledger handles database operations for the delivery ledger.
type Ledger struct {
	db     *DB
	logger *zap.Logger
}

// NewLedger creates a new delivery ledger repository.
func NewLedger(db *DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// Record upserts a ledger row keyed by job id. Duplicate terminal
// writes for the same job resolve last-write-wins, which keeps the
// operation safe under concurrent workers and crash-replayed jobs. A
// non-terminal write never overwrites a terminal row: once a job is
// sent or failed the ledger only moves forward, so a delayed
// provisional write cannot regress the record.
func (l *Ledger) Record(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO delivery_ledger (
			id, owner_user_id, channel, recipient, subject, body,
			status, error, attempts
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			updated_at = NOW()
		WHERE delivery_ledger.status NOT IN ('sent', 'failed')
			OR EXCLUDED.status IN ('sent', 'failed')
		RETURNING created_at, updated_at
	`

	err := l.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.OwnerUserID,
		rec.Channel,
		rec.Recipient,
		rec.Subject,
		rec.Body,
		rec.Status,
		rec.Error,
		rec.Attempts,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// The guard declined the write; the existing terminal row stands.
		l.logger.Debug("stale ledger write skipped",
			zap.String("job_id", rec.ID.String()),
			zap.String("status", rec.Status),
		)
		return nil
	}

	if err != nil {
		l.logger.Error("failed to record delivery",
			zap.Error(err),
			zap.String("job_id", rec.ID.String()),
			zap.String("status", rec.Status),
		)
		return fmt.Errorf("upsert delivery record: %w", err)
	}

	return nil
}

// GetByID retrieves a single ledger row.
func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*DeliveryRecord, error) {
	query := `
		SELECT
			id, owner_user_id, channel, recipient, subject, body,
			status, error, attempts, created_at, updated_at
		FROM delivery_ledger
		WHERE id = $1
	`

	var rec DeliveryRecord
	err := l.db.Pool().QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.OwnerUserID,
		&rec.Channel,
		&rec.Recipient,
		&rec.Subject,
		&rec.Body,
		&rec.Status,
		&rec.Error,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		l.logger.Error("failed to get delivery record",
			zap.Error(err),
			zap.String("job_id", id.String()),
		)
		return nil, fmt.Errorf("query delivery record: %w", err)
	}

	return &rec, nil
}

// ListByUser retrieves a user's ledger rows newest-first. The limit is
// clamped to MaxUserHistoryLimit; zero or negative means the maximum.
func (l *Ledger) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*DeliveryRecord, error) {
	if limit <= 0 || limit > MaxUserHistoryLimit {
		limit = MaxUserHistoryLimit
	}

	query := `
		SELECT
			id, owner_user_id, channel, recipient, subject, body,
			status, error, attempts, created_at, updated_at
		FROM delivery_ledger
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user deliveries: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.OwnerUserID,
			&rec.Channel,
			&rec.Recipient,
			&rec.Subject,
			&rec.Body,
			&rec.Status,
			&rec.Error,
			&rec.Attempts,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}
