package bitcoin

import (
	"bytes"
	"context"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gospv/pkg/errors"
	"github.com/bardlex/gospv/pkg/log"
)

// Bitcoin Core ZMQ topics.
const (
	TopicHashBlock = "hashblock"
	TopicHashTx    = "hashtx"
	TopicRawBlock  = "rawblock"
	TopicRawTx     = "rawtx"
)

const zmqPollInterval = 250 * time.Millisecond

// ZMQNotifier handles ZMQ notifications from Bitcoin Core
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a new ZMQ notifier
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to create ZMQ socket")
	}

	// Bounded receives let Listen observe context cancellation.
	if err := socket.SetRcvtimeo(zmqPollInterval); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to set receive timeout")
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Subscribe subscribes to a specific topic
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_subscribe", "failed to subscribe to topic").
			WithContext("topic", topic)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect", "failed to connect to ZMQ endpoint").
			WithContext("endpoint", z.endpoint)
	}
	z.logger.LogConnection("connected", z.endpoint)
	return nil
}

// Listen receives messages until ctx is done. Handler errors are logged and
// do not stop the listener.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			if zmq.AsErrno(err) == zmq.ETERM {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_listen", "ZMQ context terminated")
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		// Bitcoin Core sends topic, body and a 4-byte sequence number.
		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		data := msg[1]

		z.logger.Debug("received ZMQ message", "topic", topic, "size", len(data))

		if err := handler(topic, data); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil
	return err
}

// BlockNotificationHandler turns Bitcoin Core notifications into block and
// transaction hash callbacks. rawblock and rawtx bodies are decoded so either
// the hash or the raw topics can drive the same handlers.
type BlockNotificationHandler struct {
	logger     *log.Logger
	onNewBlock func(blockHash chainhash.Hash) error
	onNewTx    func(txHash chainhash.Hash) error
}

// NewBlockNotificationHandler creates a new block notification handler
func NewBlockNotificationHandler(logger *log.Logger) *BlockNotificationHandler {
	return &BlockNotificationHandler{
		logger: logger.WithComponent("block_notifications"),
	}
}

// SetNewBlockHandler sets the handler for new block notifications
func (h *BlockNotificationHandler) SetNewBlockHandler(handler func(blockHash chainhash.Hash) error) {
	h.onNewBlock = handler
}

// SetNewTxHandler sets the handler for new transaction notifications
func (h *BlockNotificationHandler) SetNewTxHandler(handler func(txHash chainhash.Hash) error) {
	h.onNewTx = handler
}

// HandleMessage handles a ZMQ message
func (h *BlockNotificationHandler) HandleMessage(topic string, data []byte) error {
	switch topic {
	case TopicHashBlock:
		blockHash, err := hashFromNotification(topic, data)
		if err != nil {
			return err
		}
		h.logger.Info("new block notification", "hash", blockHash.String())
		return h.newBlock(blockHash)

	case TopicHashTx:
		txHash, err := hashFromNotification(topic, data)
		if err != nil {
			return err
		}
		h.logger.Debug("new transaction notification", "hash", txHash.String())
		return h.newTx(txHash)

	case TopicRawBlock:
		// The header leads the block body.
		if len(data) < wire.MaxBlockHeaderPayload {
			return errors.New(errors.ErrorTypeValidation, "zmq_rawblock", "raw block shorter than a header").
				WithContext("size", len(data))
		}
		var header wire.BlockHeader
		if err := header.Deserialize(bytes.NewReader(data[:wire.MaxBlockHeaderPayload])); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "zmq_rawblock", "failed to decode block header")
		}
		blockHash := header.BlockHash()
		h.logger.Info("raw block notification", "hash", blockHash.String(), "size", len(data))
		return h.newBlock(blockHash)

	case TopicRawTx:
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "zmq_rawtx", "failed to decode transaction").
				WithContext("size", len(data))
		}
		txHash := tx.TxHash()
		h.logger.Debug("raw transaction notification", "hash", txHash.String(), "size", len(data))
		return h.newTx(txHash)

	default:
		h.logger.Warn("unknown ZMQ topic", "topic", topic)
	}

	return nil
}

func (h *BlockNotificationHandler) newBlock(blockHash chainhash.Hash) error {
	if h.onNewBlock == nil {
		return nil
	}
	return h.onNewBlock(blockHash)
}

func (h *BlockNotificationHandler) newTx(txHash chainhash.Hash) error {
	if h.onNewTx == nil {
		return nil
	}
	return h.onNewTx(txHash)
}

// hashFromNotification converts a ZMQ hash body, sent in display order, into
// internal byte order.
func hashFromNotification(topic string, data []byte) (chainhash.Hash, error) {
	var hash chainhash.Hash
	if len(data) != chainhash.HashSize {
		return hash, errors.New(errors.ErrorTypeValidation, "zmq_"+topic, "invalid hash length").
			WithContext("length", len(data))
	}
	for i := range chainhash.HashSize {
		hash[i] = data[chainhash.HashSize-1-i]
	}
	return hash, nil
}
