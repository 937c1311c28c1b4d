package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
)

// EncodeAccountData encodes account data according to the specified encoding.
func EncodeAccountData(data []byte, encoding Encoding) (interface{}, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// EncodeTransaction serializes tx in the given encoding. base58 is the
// default, as it is for sendTransaction.
func EncodeTransaction(tx *svm.Transaction, encoding Encoding) string {
	data := tx.Serialize()
	if encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(data)
	}
	return base58.Encode(data)
}

// DecodeTransaction parses a wire transaction in the given encoding.
func DecodeTransaction(encoded string, encoding Encoding) (*svm.Transaction, error) {
	var (
		data []byte
		err  error
	)
	switch encoding {
	case EncodingBase64:
		data, err = base64.StdEncoding.DecodeString(encoded)
	case "", EncodingBase58:
		data, err = base58.Decode(encoded)
	default:
		return nil, fmt.Errorf("unsupported transaction encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", encoding, err)
	}
	return svm.DeserializeTransaction(data)
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// ApplyDataSlice applies a data slice to account data.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}

	start := slice.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := start + slice.Length
	if end > uint64(len(data)) || end < start {
		end = uint64(len(data))
	}

	return data[start:end]
}

// ParseEncoding parses an encoding string; unknown values fall back to
// base64.
func ParseEncoding(s string) Encoding {
	switch s {
	case "base58":
		return EncodingBase58
	case "base64+zstd":
		return EncodingBase64Zstd
	default:
		return EncodingBase64
	}
}
