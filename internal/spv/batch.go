package spv

import (
	"context"
	"math/big"
	"runtime"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/sync/errgroup"
)

// BatchItem is one proof to check in VerifyBatch.
type BatchItem struct {
	TxHash                  chainhash.Hash
	Proof                   *Proof
	RequiredConfirmations   int
	PreviousEpochDifficulty *big.Int
	CurrentEpochDifficulty  *big.Int
}

// VerifyBatch runs VerifyProof over items in parallel, bounded by GOMAXPROCS.
// The result has one slot per item; a failing item never affects the others.
// Items not yet started when ctx is done report ctx's error.
func VerifyBatch(ctx context.Context, items []BatchItem) []error {
	results := make([]error, len(items))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i := range items {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				results[i] = err
				return nil
			}
			item := &items[i]
			results[i] = VerifyProof(item.TxHash, item.Proof, item.RequiredConfirmations,
				item.PreviousEpochDifficulty, item.CurrentEpochDifficulty)
			return nil
		})
	}

	// Workers never return errors; each result lands in its own slot.
	_ = group.Wait()
	return results
}
