package spv

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gospv/pkg/errors"
)

// SplitMerkleProof decodes a concatenated sibling stream, nearest sibling first.
func SplitMerkleProof(raw []byte) ([]chainhash.Hash, error) {
	if len(raw)%chainhash.HashSize != 0 {
		return nil, errors.Wrap(ErrInvalidMerkleProofLength, errors.ErrorTypeValidation, "split_merkle_proof",
			"merkle proof has a partial hash").
			WithContext("length", len(raw))
	}

	siblings := make([]chainhash.Hash, len(raw)/chainhash.HashSize)
	for i := range siblings {
		copy(siblings[i][:], raw[i*chainhash.HashSize:])
	}
	return siblings, nil
}

// BuildMerkleProof concatenates siblings in order. chainhash.Hash already holds
// the little-endian wire order, so no per-hash reversal happens here.
func BuildMerkleProof(siblings []chainhash.Hash) []byte {
	raw := make([]byte, 0, len(siblings)*chainhash.HashSize)
	for i := range siblings {
		raw = append(raw, siblings[i][:]...)
	}
	return raw
}

// ValidateMerkleProof walks from txHash up to the root using the sibling path and
// the leaf index. An odd index bit puts the sibling on the left.
func ValidateMerkleProof(txHash, merkleRoot chainhash.Hash, siblings []chainhash.Hash, index int) error {
	// Coinbase-only block: the transaction hash is the root.
	if len(siblings) == 0 && index == 0 && txHash == merkleRoot {
		return nil
	}

	if len(siblings) == 0 {
		return errors.Wrap(ErrEmptyProof, errors.ErrorTypeProof, "validate_merkle_proof",
			"non-trivial tree needs at least one sibling").
			WithContext("tx_hash", txHash.String()).
			WithContext("index", index)
	}

	if index < 0 {
		return errors.Wrap(ErrMerkleMismatch, errors.ErrorTypeProof, "validate_merkle_proof",
			"negative transaction index").
			WithContext("index", index)
	}

	current := txHash
	position := index
	for i := range siblings {
		if position&1 == 1 {
			current = hashMerkleBranches(&siblings[i], &current)
		} else {
			current = hashMerkleBranches(&current, &siblings[i])
		}
		position >>= 1
	}

	if current != merkleRoot {
		return errors.Wrap(ErrMerkleMismatch, errors.ErrorTypeProof, "validate_merkle_proof",
			"computed root differs from header merkle root").
			WithContext("tx_hash", txHash.String()).
			WithContext("computed_root", current.String()).
			WithContext("merkle_root", merkleRoot.String())
	}
	return nil
}

// hashMerkleBranches returns Hash256(left || right).
func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}
