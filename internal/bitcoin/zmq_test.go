package bitcoin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gospv/pkg/log"
)

func testLogger() *log.Logger {
	return log.NewWithWriter(io.Discard, "gospv-test", "test", "debug", "text")
}

func TestNewZMQNotifier(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "valid endpoint", endpoint: "tcp://localhost:28332"},
		{name: "empty endpoint", endpoint: ""}, // validated on Connect
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier, err := NewZMQNotifier(tt.endpoint, testLogger())
			if err != nil {
				t.Fatalf("NewZMQNotifier() unexpected error: %v", err)
			}
			if notifier.endpoint != tt.endpoint {
				t.Errorf("NewZMQNotifier() endpoint = %v, want %v", notifier.endpoint, tt.endpoint)
			}
			if err := notifier.Close(); err != nil {
				t.Errorf("Failed to close notifier: %v", err)
			}
		})
	}
}

func TestZMQNotifier_Subscribe(t *testing.T) {
	notifier, err := NewZMQNotifier("tcp://localhost:28332", testLogger())
	if err != nil {
		t.Fatalf("Failed to create notifier: %v", err)
	}
	defer func() { _ = notifier.Close() }()

	for _, topic := range []string{TopicHashBlock, TopicHashTx, TopicRawBlock, ""} {
		if err := notifier.Subscribe(topic); err != nil {
			t.Errorf("Subscribe(%q) unexpected error: %v", topic, err)
		}
	}
}

func TestZMQNotifier_Connect(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{name: "valid endpoint format", endpoint: "tcp://localhost:28332"},
		{name: "invalid endpoint format", endpoint: "invalid://endpoint", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier, err := NewZMQNotifier(tt.endpoint, testLogger())
			if err != nil {
				t.Fatalf("Failed to create notifier: %v", err)
			}
			defer func() { _ = notifier.Close() }()

			// ZMQ connects lazily, so a missing peer is not an error.
			err = notifier.Connect()
			if (err != nil) != tt.wantErr {
				t.Errorf("Connect() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestZMQNotifier_ListenStopsOnContext(t *testing.T) {
	notifier, err := NewZMQNotifier("tcp://localhost:28332", testLogger())
	if err != nil {
		t.Fatalf("Failed to create notifier: %v", err)
	}
	defer func() { _ = notifier.Close() }()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expiring, cancelTimeout := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTimeout()

	tests := []struct {
		name string
		ctx  context.Context
		want error
	}{
		{name: "canceled", ctx: canceled, want: context.Canceled},
		{name: "deadline", ctx: expiring, want: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := false
			err := notifier.Listen(tt.ctx, func(_ string, _ []byte) error {
				received = true
				return nil
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Listen() error = %v, want %v", err, tt.want)
			}
			if received {
				t.Error("Listen() delivered a message without a publisher")
			}
		})
	}
}

func TestZMQNotifier_Close(t *testing.T) {
	notifier, err := NewZMQNotifier("tcp://localhost:28332", testLogger())
	if err != nil {
		t.Fatalf("Failed to create notifier: %v", err)
	}

	if err := notifier.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Errorf("Close() second call unexpected error: %v", err)
	}
}

func TestBlockNotificationHandler_HandleMessage(t *testing.T) {
	genesis := chaincfg.MainNetParams.GenesisBlock
	genesisHash := genesis.BlockHash()
	coinbaseHash := genesis.Transactions[0].TxHash()

	var rawBlock bytes.Buffer
	if err := genesis.Serialize(&rawBlock); err != nil {
		t.Fatalf("serialize genesis block: %v", err)
	}
	var rawTx bytes.Buffer
	if err := genesis.Transactions[0].Serialize(&rawTx); err != nil {
		t.Fatalf("serialize coinbase: %v", err)
	}

	// ZMQ hash bodies are in display order.
	displayOrder := func(h chainhash.Hash) []byte {
		out := make([]byte, chainhash.HashSize)
		for i := range out {
			out[i] = h[chainhash.HashSize-1-i]
		}
		return out
	}

	tests := []struct {
		name      string
		topic     string
		data      []byte
		wantErr   bool
		wantBlock *chainhash.Hash
		wantTx    *chainhash.Hash
	}{
		{
			name:      "hashblock",
			topic:     TopicHashBlock,
			data:      displayOrder(genesisHash),
			wantBlock: &genesisHash,
		},
		{
			name:   "hashtx",
			topic:  TopicHashTx,
			data:   displayOrder(coinbaseHash),
			wantTx: &coinbaseHash,
		},
		{
			name:      "rawblock",
			topic:     TopicRawBlock,
			data:      rawBlock.Bytes(),
			wantBlock: &genesisHash,
		},
		{
			name:   "rawtx",
			topic:  TopicRawTx,
			data:   rawTx.Bytes(),
			wantTx: &coinbaseHash,
		},
		{name: "invalid block hash length", topic: TopicHashBlock, data: make([]byte, 16), wantErr: true},
		{name: "invalid tx hash length", topic: TopicHashTx, data: make([]byte, 33), wantErr: true},
		{name: "truncated raw block", topic: TopicRawBlock, data: rawBlock.Bytes()[:40], wantErr: true},
		{name: "garbage raw tx", topic: TopicRawTx, data: []byte("tx data"), wantErr: true},
		{name: "unknown topic", topic: "sequence", data: []byte("data")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBlock, gotTx *chainhash.Hash
			handler := NewBlockNotificationHandler(testLogger())
			handler.SetNewBlockHandler(func(h chainhash.Hash) error {
				gotBlock = &h
				return nil
			})
			handler.SetNewTxHandler(func(h chainhash.Hash) error {
				gotTx = &h
				return nil
			})

			err := handler.HandleMessage(tt.topic, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleMessage() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !sameHash(gotBlock, tt.wantBlock) {
				t.Errorf("block handler got %v, want %v", gotBlock, tt.wantBlock)
			}
			if !sameHash(gotTx, tt.wantTx) {
				t.Errorf("tx handler got %v, want %v", gotTx, tt.wantTx)
			}
		})
	}
}

func TestBlockNotificationHandler_NoHandlers(t *testing.T) {
	handler := NewBlockNotificationHandler(testLogger())
	if err := handler.HandleMessage(TopicHashBlock, make([]byte, 32)); err != nil {
		t.Errorf("HandleMessage() without handlers error = %v", err)
	}
}

func TestBlockNotificationHandler_PropagatesHandlerError(t *testing.T) {
	handler := NewBlockNotificationHandler(testLogger())
	want := errors.New("recheck failed")
	handler.SetNewBlockHandler(func(chainhash.Hash) error { return want })

	if err := handler.HandleMessage(TopicHashBlock, make([]byte, 32)); !errors.Is(err, want) {
		t.Errorf("HandleMessage() error = %v, want %v", err, want)
	}
}

func TestHashFromNotification(t *testing.T) {
	const display = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	want, err := chainhash.NewHashFromStr(display)
	if err != nil {
		t.Fatal(err)
	}

	body := make([]byte, chainhash.HashSize)
	for i := range body {
		body[i] = want[chainhash.HashSize-1-i]
	}

	got, err := hashFromNotification(TopicHashBlock, body)
	if err != nil {
		t.Fatalf("hashFromNotification() error = %v", err)
	}
	if got != *want || got.String() != display {
		t.Errorf("hashFromNotification() = %s, want %s", got, display)
	}
}

func sameHash(a, b *chainhash.Hash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func BenchmarkBlockNotificationHandler_HandleMessage(b *testing.B) {
	handler := NewBlockNotificationHandler(testLogger())
	handler.SetNewBlockHandler(func(chainhash.Hash) error { return nil })

	data := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = handler.HandleMessage(TopicHashBlock, data)
	}
}
