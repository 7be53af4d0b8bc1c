package spv

import (
	"errors"
	"fmt"
)

// Input shape errors.
var (
	ErrMalformedHeader          = errors.New("malformed block header")
	ErrInvalidHeaderChainLength = errors.New("header chain length is not a multiple of 80 bytes")
	ErrInvalidMerkleProofLength = errors.New("merkle proof length is not a multiple of 32 bytes")
	ErrInvalidConfirmationCount = errors.New("required confirmations must be at least 1")
)

// Cryptographic and structural proof failures. None of these are retryable.
var (
	ErrEmptyProof             = errors.New("merkle proof has no siblings")
	ErrMerkleMismatch         = errors.New("merkle path does not reach the block merkle root")
	ErrBrokenChain            = errors.New("header does not link to its predecessor")
	ErrInsufficientWork       = errors.New("header hash exceeds its declared target")
	ErrWrongDifficultyEpoch   = errors.New("header difficulty matches neither epoch")
	ErrIllegalEpochRegression = errors.New("header difficulty regressed to the previous epoch")
	ErrWrongConfirmationCount = errors.New("header count differs from required confirmations")
	ErrTransactionMismatch    = errors.New("client returned a different transaction")
)

// InsufficientConfirmationsError reports a transaction that is mined but not yet
// buried deep enough. Callers may wait for more blocks and try again.
type InsufficientConfirmationsError struct {
	Have int
	Need int
}

func (e *InsufficientConfirmationsError) Error() string {
	return fmt.Sprintf("insufficient confirmations: have %d, need %d", e.Have, e.Need)
}
