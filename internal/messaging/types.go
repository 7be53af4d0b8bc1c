package messaging

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/pkg/errors"
)

// Result statuses
const (
	StatusVerified = "verified"
	StatusInvalid  = "invalid"
	StatusPending  = "pending"
	StatusExpired  = "expired"
	StatusError    = "error"
)

// ProofRequestMessage asks the relayer to prove a transaction has the given
// number of confirmations. Hashes are in display order and difficulties are
// decimal integers.
type ProofRequestMessage struct {
	RequestID               string    `json:"request_id"`
	TxHash                  string    `json:"tx_hash"`
	RequiredConfirmations   int       `json:"required_confirmations,omitempty"`
	PreviousEpochDifficulty string    `json:"previous_epoch_difficulty"`
	CurrentEpochDifficulty  string    `json:"current_epoch_difficulty"`
	RequestedAt             time.Time `json:"requested_at"`
}

// Hash parses TxHash, which must be exactly 64 hex characters.
func (m *ProofRequestMessage) Hash() (chainhash.Hash, error) {
	if len(m.TxHash) != chainhash.MaxHashStringSize {
		return chainhash.Hash{}, errors.New(errors.ErrorTypeValidation, "parse_request",
			"transaction hash must be 64 hex characters").
			WithContext("request_id", m.RequestID).
			WithContext("tx_hash", m.TxHash)
	}
	hash, err := chainhash.NewHashFromStr(m.TxHash)
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_request",
			"invalid transaction hash").
			WithContext("request_id", m.RequestID).
			WithContext("tx_hash", m.TxHash)
	}
	return *hash, nil
}

// EpochDifficulties parses the previous and current epoch difficulties.
func (m *ProofRequestMessage) EpochDifficulties() (*big.Int, *big.Int, error) {
	prev, err := parseDifficulty(m.PreviousEpochDifficulty)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_request",
			"invalid previous epoch difficulty").
			WithContext("request_id", m.RequestID).
			WithContext("value", m.PreviousEpochDifficulty)
	}
	curr, err := parseDifficulty(m.CurrentEpochDifficulty)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeValidation, "parse_request",
			"invalid current epoch difficulty").
			WithContext("request_id", m.RequestID).
			WithContext("value", m.CurrentEpochDifficulty)
	}
	return prev, curr, nil
}

func parseDifficulty(s string) (*big.Int, error) {
	d, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New(errors.ErrorTypeValidation, "parse_difficulty", "not a decimal integer")
	}
	if d.Sign() < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "parse_difficulty", "difficulty is negative")
	}
	return d, nil
}

// ProofResultMessage reports the outcome of a proof request.
type ProofResultMessage struct {
	RequestID             string     `json:"request_id"`
	TxHash                string     `json:"tx_hash"`
	Status                string     `json:"status"`
	ErrorType             string     `json:"error_type,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	RequiredConfirmations int        `json:"required_confirmations"`
	Confirmations         int        `json:"confirmations,omitempty"`
	BlockHeight           int64      `json:"block_height,omitempty"`
	BlockHash             string     `json:"block_hash,omitempty"`
	Outputs               []TxOutput `json:"outputs,omitempty"`
	ProcessedAt           time.Time  `json:"processed_at"`
	ProcessingTimeMs      float64    `json:"processing_time_ms"`
}

// TxOutput describes one output of a proven transaction, so consumers can
// check the payment without decoding scripts.
type TxOutput struct {
	Index       uint32   `json:"index"`
	Value       int64    `json:"value"`
	Amount      string   `json:"amount"`
	ScriptClass string   `json:"script_class"`
	Addresses   []string `json:"addresses,omitempty"`
	RequiredSig int      `json:"required_sigs,omitempty"`
}

// DecodeOutputs describes tx's outputs for the given network. Scripts that do
// not decode are reported as nonstandard with no addresses.
func DecodeOutputs(tx *wire.MsgTx, params *chaincfg.Params) []TxOutput {
	outputs := make([]TxOutput, 0, len(tx.TxOut))
	for i, out := range tx.TxOut {
		output := TxOutput{
			Index:       uint32(i),
			Value:       out.Value,
			Amount:      btcutil.Amount(out.Value).String(),
			ScriptClass: txscript.NonStandardTy.String(),
		}

		class, addrs, required, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil {
			output.ScriptClass = class.String()
			output.RequiredSig = required
			for _, addr := range addrs {
				output.Addresses = append(output.Addresses, addr.EncodeAddress())
			}
		}

		outputs = append(outputs, output)
	}
	return outputs
}
