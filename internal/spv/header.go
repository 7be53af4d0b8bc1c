package spv

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gospv/pkg/errors"
)

// HeaderSize is the serialized size of a Bitcoin block header.
const HeaderSize = wire.MaxBlockHeaderPayload

// DecodeHeader parses an 80-byte serialized block header.
func DecodeHeader(raw []byte) (*wire.BlockHeader, error) {
	if len(raw) != HeaderSize {
		return nil, errors.Wrap(ErrMalformedHeader, errors.ErrorTypeValidation, "decode_header",
			"header must be exactly 80 bytes").
			WithContext("length", len(raw))
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(ErrMalformedHeader, errors.ErrorTypeValidation, "decode_header",
			err.Error())
	}
	return &header, nil
}

// EncodeHeader serializes a block header into its 80-byte wire form.
func EncodeHeader(header *wire.BlockHeader) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := header.Serialize(buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode_header",
			"failed to serialize header")
	}
	return buf.Bytes(), nil
}

// SplitHeaders decodes a concatenated header stream, preserving stream order.
func SplitHeaders(raw []byte) ([]wire.BlockHeader, error) {
	if len(raw)%HeaderSize != 0 {
		return nil, errors.Wrap(ErrInvalidHeaderChainLength, errors.ErrorTypeValidation, "split_headers",
			"header stream has a partial header").
			WithContext("length", len(raw))
	}

	headers := make([]wire.BlockHeader, 0, len(raw)/HeaderSize)
	for offset := 0; offset < len(raw); offset += HeaderSize {
		header, err := DecodeHeader(raw[offset : offset+HeaderSize])
		if err != nil {
			return nil, err
		}
		headers = append(headers, *header)
	}
	return headers, nil
}

// JoinHeaders concatenates headers into a stream in slice order.
func JoinHeaders(headers []wire.BlockHeader) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(headers)*HeaderSize))
	for i := range headers {
		if err := headers[i].Serialize(buf); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "join_headers",
				"failed to serialize header").
				WithContext("header_index", i)
		}
	}
	return buf.Bytes(), nil
}

// HashHeader returns the double SHA-256 of the header's serialization.
func HashHeader(header *wire.BlockHeader) chainhash.Hash {
	return header.BlockHash()
}
