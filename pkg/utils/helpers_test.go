package utils

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash(t *testing.T) {
	t.Parallel()

	want := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	tests := []struct {
		name    string
		input   string
		want    common.Hash
		wantErr string
		hexErr  bool
	}{
		{
			name:  "with 0x prefix",
			input: "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20",
			want:  want,
		},
		{
			name:  "without 0x prefix",
			input: "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20",
			want:  want,
		},
		{
			name:  "surrounding whitespace",
			input: " 0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20\n",
			want:  want,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: "expected 64 hex characters, got 0",
		},
		{
			name:    "short string is not padded",
			input:   "0x1234",
			wantErr: "expected 64 hex characters, got 4",
		},
		{
			name:    "too long string is not trimmed",
			input:   "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2021",
			wantErr: "expected 64 hex characters, got 66",
		},
		{
			name:   "invalid hex string",
			input:  "0xgg02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20",
			hexErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseHash(tt.input)
			switch {
			case tt.hexErr:
				var invalidByteErr hex.InvalidByteError
				require.True(t, errors.As(err, &invalidByteErr), "expected hex.InvalidByteError, got: %v", err)
			case tt.wantErr != "":
				require.ErrorContains(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    common.Address
		wantErr bool
	}{
		{
			name:  "checksummed",
			input: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			want:  common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3"),
		},
		{
			name:  "without prefix",
			input: "4142434445464748494a4b4c4d4e4f5051525354",
			want:  common.HexToAddress("0x4142434445464748494a4b4c4d4e4f5051525354"),
		},
		{name: "short", input: "0x1234", wantErr: true},
		{name: "hash sized", input: "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20", wantErr: true},
		{name: "not hex", input: "0xzz42434445464748494a4b4c4d4e4f5051525354", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.ErrorContains(t, err, "invalid address")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encoded := hex.EncodeToString(crypto.FromECDSA(key))

	got, err := ParsePrivateKey("0x" + encoded)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(got.PublicKey))

	_, err = ParsePrivateKey(encoded[:10])
	require.ErrorContains(t, err, "invalid private key")
	assert.NotContains(t, err.Error(), encoded[:10])

	// Zero is not a valid secp256k1 scalar.
	_, err = ParsePrivateKey("0x" + hex.EncodeToString(make([]byte, 32)))
	require.ErrorContains(t, err, "invalid private key")
}
