package spv

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gospv/pkg/errors"
)

// hashSlicePool reuses level buffers while building trees for large blocks.
var hashSlicePool = sync.Pool{
	New: func() any {
		// Typical block: 2000-4000 transactions
		s := make([]chainhash.Hash, 0, 4096)
		return &s
	},
}

func getHashSlice() *[]chainhash.Hash {
	s := hashSlicePool.Get().(*[]chainhash.Hash)
	*s = (*s)[:0]
	return s
}

func putHashSlice(s *[]chainhash.Hash) {
	// Don't keep buffers from pathological blocks alive
	if cap(*s) <= 1<<16 {
		hashSlicePool.Put(s)
	}
}

// nextMerkleLevel hashes level pairwise into dst, duplicating the last node of an
// odd-sized level.
func nextMerkleLevel(dst, level []chainhash.Hash) []chainhash.Hash {
	dst = dst[:0]
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		dst = append(dst, hashMerkleBranches(&level[i], &right))
	}
	return dst
}

// CalculateMerkleRoot calculates the Bitcoin merkle root from a list of transaction hashes.
// It implements the standard Bitcoin merkle tree algorithm used in block headers.
// For odd numbers of nodes on a level, the last node is duplicated.
//
// Parameters:
//   - txHashes: Transaction hashes in block order, internal byte order
//
// Returns:
//   - chainhash.Hash: The merkle root, or the zero hash for an empty list
func CalculateMerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}

	levelBuf, scratchBuf := getHashSlice(), getHashSlice()
	defer putHashSlice(levelBuf)
	defer putHashSlice(scratchBuf)

	level := append(*levelBuf, txHashes...)
	scratch := *scratchBuf
	for len(level) > 1 {
		scratch = nextMerkleLevel(scratch, level)
		level, scratch = scratch, level
	}
	root := level[0]

	*levelBuf, *scratchBuf = level, scratch
	return root
}

// BuildMerkleBranch computes the sibling path for the transaction at index.
// Where a level has no right-hand sibling the node itself is used, matching how
// CalculateMerkleRoot duplicates the last node.
//
// Parameters:
//   - txHashes: Complete list of transaction hashes in the block
//   - index: Position of the transaction in the block
//
// Returns:
//   - *MerkleBranch: Position plus siblings ordered leaf to root
//   - error: Validation error if index is out of range
func BuildMerkleBranch(txHashes []chainhash.Hash, index int) (*MerkleBranch, error) {
	if index < 0 || index >= len(txHashes) {
		return nil, errors.New(errors.ErrorTypeValidation, "build_merkle_branch",
			"transaction index out of range").
			WithContext("index", index).
			WithContext("tx_count", len(txHashes))
	}

	levelBuf, scratchBuf := getHashSlice(), getHashSlice()
	defer putHashSlice(levelBuf)
	defer putHashSlice(scratchBuf)

	level := append(*levelBuf, txHashes...)
	scratch := *scratchBuf
	branch := &MerkleBranch{Position: index}

	for position := index; len(level) > 1; position >>= 1 {
		sibling := position ^ 1
		if sibling >= len(level) {
			sibling = position
		}
		branch.Siblings = append(branch.Siblings, level[sibling])

		scratch = nextMerkleLevel(scratch, level)
		level, scratch = scratch, level
	}

	*levelBuf, *scratchBuf = level, scratch
	return branch, nil
}
