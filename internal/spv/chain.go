package spv

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/pkg/errors"
)

var bigOne = big.NewInt(1)

// epochTracker enforces that header difficulties move from the previous epoch to
// the current one at most once, scanning oldest to newest.
type epochTracker struct {
	previous       *big.Int
	current        *big.Int
	relaxed        bool
	requireCurrent bool
}

func newEpochTracker(previous, current *big.Int) *epochTracker {
	return &epochTracker{
		previous: previous,
		current:  current,
		// Reduced-difficulty networks report difficulty 1 for both epochs.
		relaxed: previous.Cmp(bigOne) == 0 && current.Cmp(bigOne) == 0,
	}
}

// observe checks the next header's difficulty. index is only used for error context.
func (t *epochTracker) observe(index int, difficulty *big.Int) error {
	if t.relaxed {
		return nil
	}

	isCurrent := difficulty.Cmp(t.current) == 0
	if !isCurrent && difficulty.Cmp(t.previous) != 0 {
		return errors.Wrap(ErrWrongDifficultyEpoch, errors.ErrorTypeProof, "validate_header_chain",
			"header difficulty is outside the supplied epochs").
			WithContext("header_index", index).
			WithContext("difficulty", difficulty.String()).
			WithContext("previous_epoch_difficulty", t.previous.String()).
			WithContext("current_epoch_difficulty", t.current.String())
	}

	if t.requireCurrent && !isCurrent {
		return errors.Wrap(ErrIllegalEpochRegression, errors.ErrorTypeProof, "validate_header_chain",
			"header reverted to the previous epoch after the transition").
			WithContext("header_index", index).
			WithContext("difficulty", difficulty.String())
	}

	t.requireCurrent = isCurrent
	return nil
}

// ValidateHeaderChain checks linkage, proof of work and epoch consistency of
// headers ordered oldest first.
func ValidateHeaderChain(headers []wire.BlockHeader, previousEpochDifficulty, currentEpochDifficulty *big.Int) error {
	epochs := newEpochTracker(previousEpochDifficulty, currentEpochDifficulty)

	var previousHash chainhash.Hash
	for i := range headers {
		header := &headers[i]

		if i > 0 && header.PrevBlock != previousHash {
			return errors.Wrap(ErrBrokenChain, errors.ErrorTypeProof, "validate_header_chain",
				"previous block hash does not match").
				WithContext("header_index", i).
				WithContext("expected_prev_block", previousHash.String()).
				WithContext("prev_block", header.PrevBlock.String())
		}

		target := TargetFromBits(header.Bits)
		headerHash := HashHeader(header)
		if !MeetsTarget(headerHash, target) {
			return errors.Wrap(ErrInsufficientWork, errors.ErrorTypeProof, "validate_header_chain",
				"header hash is above its target").
				WithContext("header_index", i).
				WithContext("block_hash", headerHash.String()).
				WithContext("bits", header.Bits)
		}
		previousHash = headerHash

		if err := epochs.observe(i, TargetToDifficulty(target)); err != nil {
			return err
		}
	}
	return nil
}
