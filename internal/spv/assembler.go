package spv

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/pkg/errors"
)

// Bundle is an assembled transaction together with its proof.
type Bundle struct {
	Tx            *wire.MsgTx
	Proof         *Proof
	BlockHeight   int64
	Confirmations int
}

// Assembler gathers proof bundles from a BitcoinClient. Client errors are
// returned unchanged; there is no retry or timeout here beyond ctx.
type Assembler struct {
	client BitcoinClient
}

// NewAssembler creates an Assembler backed by client.
func NewAssembler(client BitcoinClient) *Assembler {
	return &Assembler{client: client}
}

// Assemble builds the proof that txHash is buried under requiredConfirmations blocks.
// The header stream starts at the transaction's own block, which counts as the
// first confirmation, so only requiredConfirmations-1 further headers are fetched.
func (a *Assembler) Assemble(ctx context.Context, txHash chainhash.Hash, requiredConfirmations int) (*Bundle, error) {
	if requiredConfirmations < 1 {
		return nil, errors.Wrap(ErrInvalidConfirmationCount, errors.ErrorTypeValidation, "assemble_proof",
			"invalid required confirmations").
			WithContext("required_confirmations", requiredConfirmations)
	}

	tx, err := a.client.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.New(errors.ErrorTypeBitcoin, "assemble_proof",
			"client returned no transaction").
			WithContext("tx_hash", txHash.String())
	}
	if got := tx.TxHash(); got != txHash {
		return nil, errors.Wrap(ErrTransactionMismatch, errors.ErrorTypeProof, "assemble_proof",
			"transaction hash differs from request").
			WithContext("tx_hash", txHash.String()).
			WithContext("returned_tx_hash", got.String())
	}

	confirmations, err := a.client.GetTransactionConfirmations(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if confirmations < requiredConfirmations {
		insufficient := &InsufficientConfirmationsError{Have: confirmations, Need: requiredConfirmations}
		return nil, errors.Wrap(insufficient, errors.ErrorTypeConfirmation, "assemble_proof",
			"transaction is not buried deep enough").
			WithContext("tx_hash", txHash.String())
	}

	latestHeight, err := a.client.LatestBlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	blockHeight := latestHeight - int64(confirmations) + 1
	if blockHeight < 0 {
		return nil, errors.New(errors.ErrorTypeBitcoin, "assemble_proof",
			"confirmations exceed chain height").
			WithContext("latest_height", latestHeight).
			WithContext("confirmations", confirmations)
	}

	headers, err := a.client.GetHeadersChain(ctx, blockHeight, requiredConfirmations-1)
	if err != nil {
		return nil, err
	}

	branch, err := a.client.GetTransactionMerkle(ctx, txHash, blockHeight)
	if err != nil {
		return nil, err
	}
	if branch == nil {
		return nil, errors.New(errors.ErrorTypeBitcoin, "assemble_proof",
			"client returned no merkle branch").
			WithContext("tx_hash", txHash.String()).
			WithContext("block_height", blockHeight)
	}

	return &Bundle{
		Tx: tx,
		Proof: &Proof{
			MerkleProof:    BuildMerkleProof(branch.Siblings),
			TxIndexInBlock: branch.Position,
			BitcoinHeaders: headers,
		},
		BlockHeight:   blockHeight,
		Confirmations: confirmations,
	}, nil
}
