package messaging

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gospv/internal/spv"
	"github.com/bardlex/gospv/pkg/errors"
)

// Field names of a proof bundle message.
const (
	fieldRequestID      = "request_id"
	fieldTxHash         = "tx_hash"
	fieldRawTx          = "raw_tx"
	fieldMerkleProof    = "merkle_proof"
	fieldTxIndexInBlock = "tx_index_in_block"
	fieldBitcoinHeaders = "bitcoin_headers"
	fieldBlockHeight    = "block_height"
	fieldConfirmations  = "confirmations"
)

// ProofBundleToProto encodes a proof bundle as a protobuf Struct. Byte fields
// are hex, so on-chain verifiers can take the proof streams as they are.
func ProofBundleToProto(requestID string, bundle *spv.Bundle) (*structpb.Struct, error) {
	var rawTx bytes.Buffer
	if err := bundle.Tx.Serialize(&rawTx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode_bundle",
			"failed to serialize transaction").
			WithContext("request_id", requestID)
	}

	msg, err := structpb.NewStruct(map[string]any{
		fieldRequestID:      requestID,
		fieldTxHash:         bundle.Tx.TxHash().String(),
		fieldRawTx:          hex.EncodeToString(rawTx.Bytes()),
		fieldMerkleProof:    hex.EncodeToString(bundle.Proof.MerkleProof),
		fieldTxIndexInBlock: bundle.Proof.TxIndexInBlock,
		fieldBitcoinHeaders: hex.EncodeToString(bundle.Proof.BitcoinHeaders),
		fieldBlockHeight:    bundle.BlockHeight,
		fieldConfirmations:  bundle.Confirmations,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode_bundle",
			"failed to build protobuf struct").
			WithContext("request_id", requestID)
	}
	return msg, nil
}

// ProofBundleFromProto decodes a message built by ProofBundleToProto and
// returns the bundle with its request ID.
func ProofBundleFromProto(msg *structpb.Struct) (*spv.Bundle, string, error) {
	fields := msg.GetFields()
	requestID := fields[fieldRequestID].GetStringValue()

	decode := func(name string) ([]byte, error) {
		b, err := hex.DecodeString(fields[name].GetStringValue())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_bundle",
				"field is not valid hex").
				WithContext("field", name).
				WithContext("request_id", requestID)
		}
		return b, nil
	}

	rawTx, err := decode(fieldRawTx)
	if err != nil {
		return nil, "", err
	}
	merkleProof, err := decode(fieldMerkleProof)
	if err != nil {
		return nil, "", err
	}
	headers, err := decode(fieldBitcoinHeaders)
	if err != nil {
		return nil, "", err
	}

	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, "", errors.Wrap(err, errors.ErrorTypeValidation, "decode_bundle",
			"failed to decode transaction").
			WithContext("request_id", requestID)
	}
	if got := tx.TxHash().String(); got != fields[fieldTxHash].GetStringValue() {
		return nil, "", errors.New(errors.ErrorTypeValidation, "decode_bundle",
			"transaction does not match its hash").
			WithContext("request_id", requestID).
			WithContext("tx_hash", got)
	}

	return &spv.Bundle{
		Tx: tx,
		Proof: &spv.Proof{
			MerkleProof:    merkleProof,
			TxIndexInBlock: int(fields[fieldTxIndexInBlock].GetNumberValue()),
			BitcoinHeaders: headers,
		},
		BlockHeight:   int64(fields[fieldBlockHeight].GetNumberValue()),
		Confirmations: int(fields[fieldConfirmations].GetNumberValue()),
	}, requestID, nil
}
