package bitcoin

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/internal/spv"
)

// fakeNode is an in-memory Bitcoin Core serving a mined regtest-difficulty chain
// on top of the mainnet genesis block.
type fakeNode struct {
	mu sync.Mutex

	headers []wire.BlockHeader
	blocks  [][]*wire.MsgTx

	// failures makes the next n calls to a method fail with err.
	failures map[string]*failure
	calls    map[string]int
	shutdown bool
}

type failure struct {
	remaining int
	err       error
}

func newFakeNode(t testing.TB, txCounts ...int) *fakeNode {
	t.Helper()

	genesis := chaincfg.MainNetParams.GenesisBlock
	n := &fakeNode{
		headers:  []wire.BlockHeader{genesis.Header},
		blocks:   [][]*wire.MsgTx{{genesis.Transactions[0]}},
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
	}

	easyTarget := spv.TargetFromBits(0x207fffff)
	seed := uint32(1)
	for height, count := range txCounts {
		txs := make([]*wire.MsgTx, count)
		hashes := make([]chainhash.Hash, count)
		for i := range txs {
			tx := wire.NewMsgTx(wire.TxVersion)
			tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x02}, seed), nil, nil))
			tx.AddTxOut(wire.NewTxOut(int64(seed)*1000, []byte{0x51}))
			txs[i] = tx
			hashes[i] = tx.TxHash()
			seed++
		}

		header := wire.BlockHeader{
			Version:    4,
			PrevBlock:  n.headers[len(n.headers)-1].BlockHash(),
			MerkleRoot: spv.CalculateMerkleRoot(hashes),
			Timestamp:  time.Unix(1700000000+int64(height)*600, 0),
			Bits:       0x207fffff,
		}
		for nonce := uint32(0); nonce < math.MaxUint32; nonce++ {
			header.Nonce = nonce
			if spv.MeetsTarget(header.BlockHash(), easyTarget) {
				break
			}
		}

		n.headers = append(n.headers, header)
		n.blocks = append(n.blocks, txs)
	}
	return n
}

func (n *fakeNode) failNext(method string, times int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[method] = &failure{remaining: times, err: err}
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) enter(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
	if f, ok := n.failures[method]; ok && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

func (n *fakeNode) tx(height, index int) *wire.MsgTx {
	return n.blocks[height][index]
}

func (n *fakeNode) locate(txHash chainhash.Hash) (int, bool) {
	for height, txs := range n.blocks {
		for _, tx := range txs {
			if tx.TxHash() == txHash {
				return height, true
			}
		}
	}
	return 0, false
}

func (n *fakeNode) heightOf(blockHash chainhash.Hash) (int, bool) {
	for height := range n.headers {
		if n.headers[height].BlockHash() == blockHash {
			return height, true
		}
	}
	return 0, false
}

func (n *fakeNode) GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	if err := n.enter("GetRawTransaction"); err != nil {
		return nil, err
	}
	height, ok := n.locate(*txHash)
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "No such mempool or blockchain transaction")
	}
	for _, tx := range n.blocks[height] {
		if tx.TxHash() == *txHash {
			return btcutil.NewTx(tx), nil
		}
	}
	return nil, errors.New("unreachable")
}

func (n *fakeNode) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	if err := n.enter("GetRawTransactionVerbose"); err != nil {
		return nil, err
	}
	height, ok := n.locate(*txHash)
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "No such mempool or blockchain transaction")
	}
	return &btcjson.TxRawResult{
		Txid:          txHash.String(),
		BlockHash:     n.headers[height].BlockHash().String(),
		Confirmations: uint64(len(n.headers) - height),
	}, nil
}

func (n *fakeNode) GetBlockCount() (int64, error) {
	if err := n.enter("GetBlockCount"); err != nil {
		return 0, err
	}
	return int64(len(n.headers) - 1), nil
}

func (n *fakeNode) GetBlockHash(blockHeight int64) (*chainhash.Hash, error) {
	if err := n.enter("GetBlockHash"); err != nil {
		return nil, err
	}
	if blockHeight < 0 || blockHeight >= int64(len(n.headers)) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCOutOfRange, "Block height out of range")
	}
	hash := n.headers[blockHeight].BlockHash()
	return &hash, nil
}

func (n *fakeNode) GetBlockHeader(blockHash *chainhash.Hash) (*wire.BlockHeader, error) {
	if err := n.enter("GetBlockHeader"); err != nil {
		return nil, err
	}
	height, ok := n.heightOf(*blockHash)
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCBlockNotFound, "Block not found")
	}
	header := n.headers[height]
	return &header, nil
}

func (n *fakeNode) GetBlockVerbose(blockHash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	if err := n.enter("GetBlockVerbose"); err != nil {
		return nil, err
	}
	height, ok := n.heightOf(*blockHash)
	if !ok {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCBlockNotFound, "Block not found")
	}
	txids := make([]string, len(n.blocks[height]))
	for i, tx := range n.blocks[height] {
		txids[i] = tx.TxHash().String()
	}
	return &btcjson.GetBlockVerboseResult{
		Hash:   blockHash.String(),
		Height: int64(height),
		Tx:     txids,
	}, nil
}

func (n *fakeNode) Ping() error {
	return n.enter("Ping")
}

func (n *fakeNode) Shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shutdown = true
}
