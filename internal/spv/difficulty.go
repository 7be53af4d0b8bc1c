package spv

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MaxTargetBits is the compact encoding of the difficulty-1 target.
const MaxTargetBits uint32 = 0x1d00ffff

var maxTarget = blockchain.CompactToBig(MaxTargetBits)

// MaxTarget returns a copy of the difficulty-1 target.
func MaxTarget() *big.Int {
	return new(big.Int).Set(maxTarget)
}

// TargetFromBits decodes a compact target. Negative encodings yield a negative target.
func TargetFromBits(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// TargetToDifficulty returns maxTarget / target, truncated. Targets that are not
// positive have difficulty 0, as do targets easier than the max target.
func TargetToDifficulty(target *big.Int) *big.Int {
	if target.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(maxTarget, target)
}

// Difficulty returns the difficulty declared by a header's bits.
func Difficulty(header *wire.BlockHeader) *big.Int {
	return TargetToDifficulty(TargetFromBits(header.Bits))
}

// HashToBig interprets a hash in internal byte order as an unsigned number,
// the same way proof-of-work compares it against a target.
func HashToBig(hash chainhash.Hash) *big.Int {
	return blockchain.HashToBig(&hash)
}

// MeetsTarget reports whether hash is at or below target.
func MeetsTarget(hash chainhash.Hash, target *big.Int) bool {
	if target.Sign() <= 0 {
		return false
	}
	return HashToBig(hash).Cmp(target) <= 0
}
