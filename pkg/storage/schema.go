package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types
const (
	prefixMeta = "/meta/"
	prefixData = "/data/"
)

// Metadata keys
const (
	keyCursor = "/meta/cursor"
)

// CursorKey returns the key storing the last fully processed block
func CursorKey() []byte {
	return []byte(keyCursor)
}

// DataKey maps a handler key into the data namespace
// Format: /data/{key}
func DataKey(key []byte) []byte {
	out := make([]byte, 0, len(prefixData)+len(key))
	out = append(out, prefixData...)
	return append(out, key...)
}

// ParseDataKey strips the data namespace from a stored key
func ParseDataKey(key []byte) ([]byte, error) {
	if !bytes.HasPrefix(key, []byte(prefixData)) {
		return nil, fmt.Errorf("invalid data key prefix: %s", key)
	}
	return key[len(prefixData):], nil
}

// IsMetadataKey checks if key is a metadata key
func IsMetadataKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte(prefixMeta))
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: uint64 data length %d", ErrInvalidData, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
