package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/crypto"
)

// decodeFixed decodes a hex string (with or without 0x prefix) that must encode exactly n bytes.
// Short input is rejected rather than padded: a truncated address or hash in configuration is a
// typo, not a small number.
func decodeFixed(hexStr string, n int) ([]byte, error) {
	hexStr = strings.TrimPrefix(strings.TrimSpace(hexStr), "0x")
	if len(hexStr) != 2*n {
		return nil, fmt.Errorf("expected %d hex characters, got %d", 2*n, len(hexStr))
	}
	return hex.DecodeString(hexStr)
}

// ParseAddress converts a hex string (with or without 0x prefix) to an address.
func ParseAddress(hexStr string) (common.Address, error) {
	b, err := decodeFixed(hexStr, common.AddressLength)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", hexStr, err)
	}
	return common.BytesToAddress(b), nil
}

// ParseHash converts a hex string (with or without 0x prefix) to a 32-byte hash.
func ParseHash(hexStr string) (common.Hash, error) {
	b, err := decodeFixed(hexStr, common.HashLength)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q: %w", hexStr, err)
	}
	return common.BytesToHash(b), nil
}

// ParsePrivateKey converts a hex-encoded secp256k1 key. The key itself is never part of the error.
func ParsePrivateKey(hexStr string) (*ecdsa.PrivateKey, error) {
	b, err := decodeFixed(hexStr, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
