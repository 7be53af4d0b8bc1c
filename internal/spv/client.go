package spv

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BitcoinClient is the data source a proof is assembled from. Its answers are
// not trusted: everything it returns is re-derived cryptographically.
type BitcoinClient interface {
	// GetTransaction returns the transaction with the given hash.
	GetTransaction(ctx context.Context, txHash chainhash.Hash) (*wire.MsgTx, error)

	// GetTransactionConfirmations returns how many blocks bury the transaction,
	// counting its own block as 1. Unconfirmed transactions report 0.
	GetTransactionConfirmations(ctx context.Context, txHash chainhash.Hash) (int, error)

	// LatestBlockHeight returns the height of the best chain tip.
	LatestBlockHeight(ctx context.Context) (int64, error)

	// GetHeadersChain returns the raw header at startHeight followed by count
	// further headers, concatenated oldest first.
	GetHeadersChain(ctx context.Context, startHeight int64, count int) ([]byte, error)

	// GetTransactionMerkle returns the Merkle branch of the transaction within the
	// block at blockHeight.
	GetTransactionMerkle(ctx context.Context, txHash chainhash.Hash, blockHeight int64) (*MerkleBranch, error)
}

// MerkleBranch locates a transaction inside its block's Merkle tree.
type MerkleBranch struct {
	// Position is the transaction's index in the block.
	Position int
	// Siblings are ordered from the leaf's sibling up to, not including, the root.
	Siblings []chainhash.Hash
}

// Proof is the serialized SPV evidence for one transaction.
type Proof struct {
	// MerkleProof is the concatenation of 32-byte sibling hashes, nearest first.
	MerkleProof []byte
	// TxIndexInBlock is the transaction's position in its block.
	TxIndexInBlock int
	// BitcoinHeaders is the concatenation of 80-byte headers starting with the
	// transaction's block, oldest first.
	BitcoinHeaders []byte
}

// Confirmations returns how many headers the proof carries. Partial trailing
// bytes are ignored here and rejected by VerifyProof.
func (p *Proof) Confirmations() int {
	return len(p.BitcoinHeaders) / HeaderSize
}
