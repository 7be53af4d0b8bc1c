package spv

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestMaxTarget(t *testing.T) {
	want := new(big.Int).Lsh(big.NewInt(0xffff), 208)
	if MaxTarget().Cmp(want) != 0 {
		t.Errorf("MaxTarget() = %x, want %x", MaxTarget(), want)
	}

	// Callers must not be able to mutate the shared constant.
	MaxTarget().SetInt64(1)
	if MaxTarget().Cmp(want) != 0 {
		t.Error("MaxTarget() returned shared state")
	}
}

func TestTargetToDifficulty(t *testing.T) {
	tests := []struct {
		name string
		bits uint32
		want int64
	}{
		{name: "difficulty one", bits: 0x1d00ffff, want: 1},
		{name: "block 100000", bits: 0x1b04864c, want: 14484},
		{name: "early retarget", bits: 0x1b0404cb, want: 16307},
		{name: "regtest target is easier than max", bits: easyBits, want: 0},
		{name: "zero mantissa", bits: 0x1d000000, want: 0},
		{name: "negative target", bits: 0x1d800001, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetToDifficulty(TargetFromBits(tt.bits))
			if got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("difficulty(%#x) = %s, want %d", tt.bits, got, tt.want)
			}
		})
	}
}

func TestDifficulty_Genesis(t *testing.T) {
	header := genesisHeader()
	if got := Difficulty(&header); got.Cmp(bigOne) != 0 {
		t.Errorf("Difficulty(genesis) = %s, want 1", got)
	}
}

func TestMeetsTarget(t *testing.T) {
	genesis := genesisHeader()
	hash := genesis.BlockHash()

	if !MeetsTarget(hash, TargetFromBits(genesis.Bits)) {
		t.Error("genesis should meet its own target")
	}
	if MeetsTarget(hash, TargetFromBits(0x1b0404cb)) {
		t.Error("genesis should not meet a harder target")
	}

	// Equality counts as meeting the target.
	exact := HashToBig(hash)
	if !MeetsTarget(hash, exact) {
		t.Error("hash equal to target should meet it")
	}
	if MeetsTarget(hash, new(big.Int).Sub(exact, bigOne)) {
		t.Error("target one below the hash should fail")
	}

	if MeetsTarget(chainhash.Hash{}, big.NewInt(0)) {
		t.Error("zero target never meets")
	}
}

func TestHashToBig_ByteOrder(t *testing.T) {
	// Internal order is little endian, so the last byte is the most significant.
	var hash chainhash.Hash
	hash[chainhash.HashSize-1] = 0x01

	want := new(big.Int).Lsh(bigOne, 248)
	if got := HashToBig(hash); got.Cmp(want) != 0 {
		t.Errorf("HashToBig() = %x, want %x", got, want)
	}
}
