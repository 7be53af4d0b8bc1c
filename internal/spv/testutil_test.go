package spv

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// easyBits encodes a target above 2^254, so roughly every other nonce meets it.
// Its difficulty truncates to 0.
const easyBits uint32 = 0x207fffff

var baseTime = time.Unix(1700000000, 0)

func genesisHeader() wire.BlockHeader {
	return chaincfg.MainNetParams.GenesisBlock.Header
}

// mineHeader searches nonces until the header meets its easy target.
func mineHeader(t testing.TB, prev, merkleRoot chainhash.Hash, ts time.Time) wire.BlockHeader {
	t.Helper()

	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev,
		MerkleRoot: merkleRoot,
		Timestamp:  ts,
		Bits:       easyBits,
	}
	target := TargetFromBits(easyBits)
	for nonce := uint32(0); nonce < math.MaxUint32; nonce++ {
		header.Nonce = nonce
		if MeetsTarget(header.BlockHash(), target) {
			return header
		}
	}
	t.Fatal("no nonce meets the easy target")
	return header
}

// unminedHeader returns a header whose hash is above its easy target.
func unminedHeader(t testing.TB, prev, merkleRoot chainhash.Hash, ts time.Time) wire.BlockHeader {
	t.Helper()

	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev,
		MerkleRoot: merkleRoot,
		Timestamp:  ts,
		Bits:       easyBits,
	}
	target := TargetFromBits(easyBits)
	for nonce := uint32(0); nonce < math.MaxUint32; nonce++ {
		header.Nonce = nonce
		if !MeetsTarget(header.BlockHash(), target) {
			return header
		}
	}
	t.Fatal("every nonce meets the easy target")
	return header
}

// mineChain mines count headers on top of parent.
func mineChain(t testing.TB, parent chainhash.Hash, count int) []wire.BlockHeader {
	t.Helper()

	headers := make([]wire.BlockHeader, 0, count)
	prev := parent
	for i := range count {
		root := chainhash.DoubleHashH([]byte{byte(i), byte(i >> 8)})
		header := mineHeader(t, prev, root, baseTime.Add(time.Duration(i)*10*time.Minute))
		headers = append(headers, header)
		prev = header.BlockHash()
	}
	return headers
}

func joinHeaders(t testing.TB, headers []wire.BlockHeader) []byte {
	t.Helper()

	raw, err := JoinHeaders(headers)
	if err != nil {
		t.Fatalf("JoinHeaders() error = %v", err)
	}
	return raw
}

// fakeTx builds a distinct, well-formed transaction for seed.
func fakeTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOut := wire.NewOutPoint(&chainhash.Hash{0x01}, seed)
	tx.AddTxIn(wire.NewTxIn(prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(seed)*1000+546, []byte{0x51}))
	return tx
}

type headerRequest struct {
	start int64
	count int
}

// mockClient serves a mined chain where block h holds the transactions in blocks[h].
type mockClient struct {
	mu sync.Mutex

	headers []wire.BlockHeader
	blocks  [][]*wire.MsgTx

	// Optional overrides
	confirmations map[chainhash.Hash]int
	latestHeight  *int64
	swapTx        *wire.MsgTx
	errs          map[string]error
	headersHook   func([]byte) []byte
	branchHook    func(*MerkleBranch)
	// nilResult names a call that answers with neither a value nor an error.
	nilResult string

	headerRequests []headerRequest
	calls          []string
}

// newMockClient mines one block per entry in txCounts, each holding that many
// transactions, on top of the mainnet genesis block at height 0.
func newMockClient(t testing.TB, txCounts ...int) *mockClient {
	t.Helper()

	genesis := genesisHeader()
	m := &mockClient{
		headers: []wire.BlockHeader{genesis},
		blocks:  [][]*wire.MsgTx{{chaincfg.MainNetParams.GenesisBlock.Transactions[0]}},
	}

	seed := uint32(1)
	for height, count := range txCounts {
		txs := make([]*wire.MsgTx, count)
		hashes := make([]chainhash.Hash, count)
		for i := range txs {
			txs[i] = fakeTx(seed)
			hashes[i] = txs[i].TxHash()
			seed++
		}

		prev := m.headers[len(m.headers)-1].BlockHash()
		ts := baseTime.Add(time.Duration(height) * 10 * time.Minute)
		m.headers = append(m.headers, mineHeader(t, prev, CalculateMerkleRoot(hashes), ts))
		m.blocks = append(m.blocks, txs)
	}
	return m
}

func (m *mockClient) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.errs[call]
}

func (m *mockClient) tip() int64 {
	if m.latestHeight != nil {
		return *m.latestHeight
	}
	return int64(len(m.headers) - 1)
}

func (m *mockClient) locate(txHash chainhash.Hash) (int64, int, bool) {
	for height, txs := range m.blocks {
		for i, tx := range txs {
			if tx.TxHash() == txHash {
				return int64(height), i, true
			}
		}
	}
	return 0, 0, false
}

func (m *mockClient) tx(height int64, index int) *wire.MsgTx {
	return m.blocks[height][index]
}

func (m *mockClient) GetTransaction(_ context.Context, txHash chainhash.Hash) (*wire.MsgTx, error) {
	if err := m.record("GetTransaction"); err != nil {
		return nil, err
	}
	if m.nilResult == "GetTransaction" {
		return nil, nil
	}
	if m.swapTx != nil {
		return m.swapTx, nil
	}
	height, index, ok := m.locate(txHash)
	if !ok {
		return nil, errors.New("no such mempool or blockchain transaction")
	}
	return m.tx(height, index), nil
}

func (m *mockClient) GetTransactionConfirmations(_ context.Context, txHash chainhash.Hash) (int, error) {
	if err := m.record("GetTransactionConfirmations"); err != nil {
		return 0, err
	}
	if c, ok := m.confirmations[txHash]; ok {
		return c, nil
	}
	height, _, ok := m.locate(txHash)
	if !ok {
		return 0, nil
	}
	return int(int64(len(m.headers)-1) - height + 1), nil
}

func (m *mockClient) LatestBlockHeight(_ context.Context) (int64, error) {
	if err := m.record("LatestBlockHeight"); err != nil {
		return 0, err
	}
	return m.tip(), nil
}

func (m *mockClient) GetHeadersChain(_ context.Context, startHeight int64, count int) ([]byte, error) {
	if err := m.record("GetHeadersChain"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.headerRequests = append(m.headerRequests, headerRequest{start: startHeight, count: count})
	m.mu.Unlock()

	end := min(startHeight+int64(count)+1, int64(len(m.headers)))
	if startHeight < 0 || startHeight >= end {
		return nil, errors.New("block height out of range")
	}
	raw, err := JoinHeaders(m.headers[startHeight:end])
	if err != nil {
		return nil, err
	}
	if m.headersHook != nil {
		raw = m.headersHook(raw)
	}
	return raw, nil
}

func (m *mockClient) GetTransactionMerkle(_ context.Context, txHash chainhash.Hash, blockHeight int64) (*MerkleBranch, error) {
	if err := m.record("GetTransactionMerkle"); err != nil {
		return nil, err
	}
	if m.nilResult == "GetTransactionMerkle" {
		return nil, nil
	}
	if blockHeight < 0 || blockHeight >= int64(len(m.blocks)) {
		return nil, errors.New("block height out of range")
	}
	txs := m.blocks[blockHeight]
	hashes := make([]chainhash.Hash, len(txs))
	index := -1
	for i, tx := range txs {
		hashes[i] = tx.TxHash()
		if hashes[i] == txHash {
			index = i
		}
	}
	if index < 0 {
		return nil, errors.New("transaction not found in block")
	}
	branch, err := BuildMerkleBranch(hashes, index)
	if err != nil {
		return nil, err
	}
	if m.branchHook != nil {
		m.branchHook(branch)
	}
	return branch, nil
}
