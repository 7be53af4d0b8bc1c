// Package bitcoin connects the SPV proof machinery to a Bitcoin Core node.
// It serves proof data over JSON-RPC and relays block notifications over ZMQ.
package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/internal/spv"
)

// nodeRPC is the subset of btcd's rpcclient used to serve proof data.
// Tests substitute an in-memory node.
type nodeRPC interface {
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)
	GetBlockCount() (int64, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlockHeader(blockHash *chainhash.Hash) (*wire.BlockHeader, error)
	GetBlockVerbose(blockHash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error)
	Ping() error
	Shutdown()
}

// ZMQInterface defines the contract for Bitcoin Core ZMQ notifications.
// This interface allows for mocking ZMQ functionality in tests.
type ZMQInterface interface {
	// Subscribe adds a topic subscription for ZMQ notifications.
	Subscribe(topic string) error

	// Connect establishes connection to the ZMQ endpoint.
	Connect() error

	// Listen starts the ZMQ listener with a message handler function.
	// The handler function receives topic and data for each message.
	Listen(ctx context.Context, handler func(topic string, data []byte) error) error

	// Close gracefully shuts down the ZMQ connection.
	Close() error
}

// BlockNotificationInterface defines the contract for handling Bitcoin block notifications.
type BlockNotificationInterface interface {
	// SetNewBlockHandler sets the callback for new block notifications.
	SetNewBlockHandler(handler func(blockHash chainhash.Hash) error)

	// SetNewTxHandler sets the callback for new transaction notifications.
	SetNewTxHandler(handler func(txHash chainhash.Hash) error)

	// HandleMessage processes incoming ZMQ messages and routes them to appropriate handlers.
	HandleMessage(topic string, data []byte) error
}

// Compile-time interface compliance checks
var (
	_ nodeRPC                    = (*rpcclient.Client)(nil)
	_ spv.BitcoinClient          = (*RPCClient)(nil)
	_ ZMQInterface               = (*ZMQNotifier)(nil)
	_ BlockNotificationInterface = (*BlockNotificationHandler)(nil)
)
