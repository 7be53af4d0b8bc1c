package bitcoin

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/internal/spv"
	"github.com/bardlex/gospv/pkg/circuit"
	"github.com/bardlex/gospv/pkg/errors"
	"github.com/bardlex/gospv/pkg/log"
	"github.com/bardlex/gospv/pkg/retry"
)

// rpcInWarmup is Bitcoin Core's RPC_IN_WARMUP code, sent while the node is
// still loading its block index.
const rpcInWarmup btcjson.RPCErrorCode = -28

// isNodeFailure counts transport failures and warmup against the breaker.
// Other JSON-RPC errors are answers from a healthy node, such as an unknown
// txid, and must not open the circuit.
func isNodeFailure(err error) bool {
	var rpcErr *btcjson.RPCError
	if stderrors.As(err, &rpcErr) && rpcErr.Code != rpcInWarmup {
		return false
	}
	return circuit.DefaultIsFailure(err)
}

// RPCClient serves SPV proof data from a Bitcoin Core node over JSON-RPC.
// Every call runs behind a circuit breaker with exponential-backoff retries.
//
// getrawtransaction for transactions outside the node's wallet needs the node to
// run with -txindex.
type RPCClient struct {
	node           nodeRPC
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger
}

// NewRPCClient creates a new Bitcoin Core RPC client using btcd's RPC
// implementation. It configures the client for HTTP-only communication
// with TLS disabled, which is typical for local Bitcoin Core deployments.
//
// Parameters:
//   - host: Bitcoin Core hostname or IP address
//   - port: Bitcoin Core RPC port (typically 8332 for mainnet)
//   - username: RPC authentication username
//   - password: RPC authentication password
//   - logger: Logger for breaker transitions and retries
//
// Returns:
//   - *RPCClient: Configured RPC client ready for use
//   - error: Any error encountered during client creation
func NewRPCClient(host string, port int, username, password string, logger *log.Logger) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "rpc_client_creation",
			"failed to create Bitcoin RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	return newRPCClient(client, logger), nil
}

func newRPCClient(node nodeRPC, logger *log.Logger) *RPCClient {
	logger = logger.WithComponent("bitcoin_rpc")

	cbConfig := &circuit.Config{
		Name:            "bitcoin_rpc",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
		IsFailure:       isNodeFailure,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	retryConfig := retry.NetworkConfig()
	retryConfig.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Debug("retrying bitcoin rpc call",
			"attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}

	return &RPCClient{
		node:           node,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retryConfig,
		logger:         logger,
	}
}

// Close gracefully shuts down the RPC client and releases any resources.
func (c *RPCClient) Close() {
	c.node.Shutdown()
}

// call runs fn behind the breaker and retry policy.
func call[T any](ctx context.Context, c *RPCClient, fn func() (T, error)) (T, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (T, error) {
		return retry.DoWithResult(ctx, c.retryConfig, fn)
	})
}

// Ping tests the connection to Bitcoin Core.
func (c *RPCClient) Ping(ctx context.Context) error {
	_, err := call(ctx, c, func() (struct{}, error) {
		if err := c.node.Ping(); err != nil {
			return struct{}{}, errors.Wrap(err, errors.ErrorTypeNetwork, "ping",
				"Bitcoin Core connectivity check failed")
		}
		return struct{}{}, nil
	})
	return err
}

// GetTransaction fetches a transaction by hash.
func (c *RPCClient) GetTransaction(ctx context.Context, txHash chainhash.Hash) (*wire.MsgTx, error) {
	return call(ctx, c, func() (*wire.MsgTx, error) {
		tx, err := c.node.GetRawTransaction(&txHash)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_transaction",
				"failed to retrieve transaction").
				WithContext("tx_hash", txHash.String())
		}
		return tx.MsgTx(), nil
	})
}

// GetTransactionConfirmations returns the node's confirmation count for a
// transaction. Mempool transactions report 0.
func (c *RPCClient) GetTransactionConfirmations(ctx context.Context, txHash chainhash.Hash) (int, error) {
	return call(ctx, c, func() (int, error) {
		result, err := c.node.GetRawTransactionVerbose(&txHash)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_transaction_confirmations",
				"failed to retrieve transaction confirmations").
				WithContext("tx_hash", txHash.String())
		}
		return int(result.Confirmations), nil
	})
}

// LatestBlockHeight returns the height of the node's best chain tip.
func (c *RPCClient) LatestBlockHeight(ctx context.Context) (int64, error) {
	return call(ctx, c, func() (int64, error) {
		count, err := c.node.GetBlockCount()
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_block_count",
				"failed to retrieve current block height")
		}
		return count, nil
	})
}

// GetHeadersChain returns the header at startHeight followed by count further
// headers as one oldest-first stream.
func (c *RPCClient) GetHeadersChain(ctx context.Context, startHeight int64, count int) ([]byte, error) {
	if startHeight < 0 || count < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "get_headers_chain",
			"start height and count must not be negative").
			WithContext("start_height", startHeight).
			WithContext("count", count)
	}

	buf := bytes.NewBuffer(make([]byte, 0, (count+1)*spv.HeaderSize))
	for height := startHeight; height <= startHeight+int64(count); height++ {
		header, err := c.headerAt(ctx, height)
		if err != nil {
			return nil, err
		}
		if err := header.Serialize(buf); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "get_headers_chain",
				"failed to serialize header").
				WithContext("height", height)
		}
	}
	return buf.Bytes(), nil
}

// GetTransactionMerkle derives the transaction's Merkle branch from the
// transaction list of the block at blockHeight.
func (c *RPCClient) GetTransactionMerkle(ctx context.Context, txHash chainhash.Hash, blockHeight int64) (*spv.MerkleBranch, error) {
	blockHash, err := c.blockHashAt(ctx, blockHeight)
	if err != nil {
		return nil, err
	}

	block, err := call(ctx, c, func() (*btcjson.GetBlockVerboseResult, error) {
		block, err := c.node.GetBlockVerbose(blockHash)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_block",
				"failed to retrieve block information").
				WithContext("block_hash", blockHash.String())
		}
		return block, nil
	})
	if err != nil {
		return nil, err
	}

	txHashes := make([]chainhash.Hash, len(block.Tx))
	index := -1
	for i, txid := range block.Tx {
		hash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_transaction_merkle",
				"node returned an invalid txid").
				WithContext("txid", txid)
		}
		txHashes[i] = *hash
		if *hash == txHash {
			index = i
		}
	}

	if index < 0 {
		return nil, errors.New(errors.ErrorTypeBitcoin, "get_transaction_merkle",
			"transaction is not in the block at the given height").
			WithContext("tx_hash", txHash.String()).
			WithContext("block_height", blockHeight)
	}

	return spv.BuildMerkleBranch(txHashes, index)
}

func (c *RPCClient) blockHashAt(ctx context.Context, height int64) (*chainhash.Hash, error) {
	return call(ctx, c, func() (*chainhash.Hash, error) {
		hash, err := c.node.GetBlockHash(height)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_block_hash",
				"failed to retrieve block hash").
				WithContext("height", height)
		}
		return hash, nil
	})
}

func (c *RPCClient) headerAt(ctx context.Context, height int64) (*wire.BlockHeader, error) {
	blockHash, err := c.blockHashAt(ctx, height)
	if err != nil {
		return nil, err
	}

	return call(ctx, c, func() (*wire.BlockHeader, error) {
		header, err := c.node.GetBlockHeader(blockHash)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_block_header",
				"failed to retrieve block header").
				WithContext("block_hash", blockHash.String()).
				WithContext("height", height)
		}
		return header, nil
	})
}
