package spv

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gospv/pkg/errors"
)

// Validator assembles proofs and verifies them. It holds no state besides the
// assembler, so one Validator can serve concurrent calls.
type Validator struct {
	assembler *Assembler
}

// NewValidator creates a Validator backed by client.
func NewValidator(client BitcoinClient) *Validator {
	return &Validator{assembler: NewAssembler(client)}
}

// Validate reports whether txHash is provably mined under requiredConfirmations
// blocks within the given difficulty epochs. Any error means the proof must not
// be acted upon.
func (v *Validator) Validate(ctx context.Context, txHash chainhash.Hash, requiredConfirmations int, previousEpochDifficulty, currentEpochDifficulty *big.Int) error {
	_, err := v.Verify(ctx, txHash, requiredConfirmations, previousEpochDifficulty, currentEpochDifficulty)
	return err
}

// Verify is Validate that also returns the verified bundle.
func (v *Validator) Verify(ctx context.Context, txHash chainhash.Hash, requiredConfirmations int, previousEpochDifficulty, currentEpochDifficulty *big.Int) (*Bundle, error) {
	if requiredConfirmations < 1 {
		return nil, errors.Wrap(ErrInvalidConfirmationCount, errors.ErrorTypeValidation, "validate_proof",
			"invalid required confirmations").
			WithContext("required_confirmations", requiredConfirmations)
	}

	bundle, err := v.assembler.Assemble(ctx, txHash, requiredConfirmations)
	if err != nil {
		return nil, err
	}

	if err := VerifyProof(txHash, bundle.Proof, requiredConfirmations, previousEpochDifficulty, currentEpochDifficulty); err != nil {
		return nil, err
	}
	return bundle, nil
}

// VerifyProof checks an already assembled proof without any I/O.
func VerifyProof(txHash chainhash.Hash, proof *Proof, requiredConfirmations int, previousEpochDifficulty, currentEpochDifficulty *big.Int) error {
	if requiredConfirmations < 1 {
		return errors.Wrap(ErrInvalidConfirmationCount, errors.ErrorTypeValidation, "verify_proof",
			"invalid required confirmations").
			WithContext("required_confirmations", requiredConfirmations)
	}
	if previousEpochDifficulty == nil || currentEpochDifficulty == nil {
		return errors.New(errors.ErrorTypeValidation, "verify_proof",
			"epoch difficulties are required")
	}
	if proof == nil {
		return errors.New(errors.ErrorTypeValidation, "verify_proof", "proof is required")
	}

	headers, err := SplitHeaders(proof.BitcoinHeaders)
	if err != nil {
		return err
	}
	if len(headers) != requiredConfirmations {
		return errors.Wrap(ErrWrongConfirmationCount, errors.ErrorTypeProof, "verify_proof",
			"proof carries the wrong number of headers").
			WithContext("header_count", len(headers)).
			WithContext("required_confirmations", requiredConfirmations)
	}

	siblings, err := SplitMerkleProof(proof.MerkleProof)
	if err != nil {
		return err
	}

	if err := ValidateMerkleProof(txHash, headers[0].MerkleRoot, siblings, proof.TxIndexInBlock); err != nil {
		return err
	}

	return ValidateHeaderChain(headers, previousEpochDifficulty, currentEpochDifficulty)
}
