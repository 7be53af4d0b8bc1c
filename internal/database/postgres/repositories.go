package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no verification matches a lookup.
var ErrNotFound = errors.New("verification not found")

const verificationColumns = `id, request_id, tx_hash, status, required_confirmations, confirmations,
	block_height, block_hash, previous_epoch_difficulty, current_epoch_difficulty,
	error_type, error_message, processing_time_ms, created_at`

// VerificationRepository handles proof verification records
type VerificationRepository struct {
	db *sql.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *sql.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// CreateVerification inserts a verification record. Replaying the same
// request and status is a no-op, so redelivered Kafka messages stay single.
func (r *VerificationRepository) CreateVerification(ctx context.Context, v *ProofVerification) error {
	query := `
		INSERT INTO proof_verifications (request_id, tx_hash, status, required_confirmations, confirmations,
		                                 block_height, block_hash, previous_epoch_difficulty, current_epoch_difficulty,
		                                 error_type, error_message, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id, status) DO UPDATE SET request_id = EXCLUDED.request_id
		RETURNING id`

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		v.RequestID, v.TxHash, v.Status, v.RequiredConfirmations, v.Confirmations,
		v.BlockHeight, v.BlockHash, v.PreviousEpochDifficulty, v.CurrentEpochDifficulty,
		v.ErrorType, v.ErrorMessage, v.ProcessingTimeMs, v.CreatedAt,
	).Scan(&v.ID)

	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}

	return nil
}

// GetByRequestID returns the most recent record for a request
func (r *VerificationRepository) GetByRequestID(ctx context.Context, requestID string) (*ProofVerification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM proof_verifications
		WHERE request_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	v, err := scanVerification(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

// GetLatestVerified returns the most recent successful verification of a
// transaction with at least minConfirmations.
func (r *VerificationRepository) GetLatestVerified(ctx context.Context, txHash string, minConfirmations int) (*ProofVerification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM proof_verifications
		WHERE tx_hash = $1 AND status = 'verified' AND required_confirmations >= $2
		ORDER BY created_at DESC
		LIMIT 1`

	v, err := scanVerification(r.db.QueryRowContext(ctx, query, txHash, minConfirmations))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

// ListByTxHash retrieves a transaction's verification history with pagination
func (r *VerificationRepository) ListByTxHash(ctx context.Context, txHash string, limit, offset int) ([]*ProofVerification, error) {
	query := `SELECT ` + verificationColumns + `
		FROM proof_verifications
		WHERE tx_hash = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, txHash, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ProofVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verifications: %w", err)
	}

	return out, nil
}

// CountByStatus counts outcomes recorded since the given time
func (r *VerificationRepository) CountByStatus(ctx context.Context, since time.Time) (*VerificationStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM proof_verifications
		WHERE created_at >= $1
		GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &VerificationStats{Since: since, ByStatus: make(map[string]int64)}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan prunes records created before cutoff and reports how many
// were removed.
func (r *VerificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM proof_verifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune verifications: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*ProofVerification, error) {
	v := &ProofVerification{}
	err := row.Scan(
		&v.ID, &v.RequestID, &v.TxHash, &v.Status, &v.RequiredConfirmations, &v.Confirmations,
		&v.BlockHeight, &v.BlockHash, &v.PreviousEpochDifficulty, &v.CurrentEpochDifficulty,
		&v.ErrorType, &v.ErrorMessage, &v.ProcessingTimeMs, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}
