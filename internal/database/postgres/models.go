package postgres

import (
	"time"
)

// ProofVerification is one terminal outcome of a proof request.
type ProofVerification struct {
	ID                      int64     `db:"id"`
	RequestID               string    `db:"request_id"`
	TxHash                  string    `db:"tx_hash"`
	Status                  string    `db:"status"` // verified, invalid, expired, error
	RequiredConfirmations   int       `db:"required_confirmations"`
	Confirmations           int       `db:"confirmations"`
	BlockHeight             *int64    `db:"block_height"`
	BlockHash               *string   `db:"block_hash"`
	PreviousEpochDifficulty string    `db:"previous_epoch_difficulty"`
	CurrentEpochDifficulty  string    `db:"current_epoch_difficulty"`
	ErrorType               *string   `db:"error_type"`
	ErrorMessage            *string   `db:"error_message"`
	ProcessingTimeMs        float64   `db:"processing_time_ms"`
	CreatedAt               time.Time `db:"created_at"`
}

// VerificationStats counts outcomes since a point in time.
type VerificationStats struct {
	Since    time.Time
	ByStatus map[string]int64
	Total    int64
}
