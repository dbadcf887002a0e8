package stage

import (
	"fmt"
	"os"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/crypto"
)

// Program is a compiled proof program consumed as an opaque artifact.
type Program struct {
	Path  string
	Bytes []byte
	Hash  common.Hash
}

// LoadProgram reads the artifact at path and checks its keccak256 against expectedHex. An empty
// expectedHex skips the check.
func LoadProgram(path, expectedHex string) (*Program, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program %s: %w", path, err)
	}
	p := &Program{Path: path, Bytes: b, Hash: crypto.Keccak256Hash(b)}
	if expectedHex == "" {
		return p, nil
	}
	if want := common.HexToHash(expectedHex); want != p.Hash {
		return nil, fmt.Errorf("%w: program %s has hash %s, expected %s", ErrInvalidInput, path, p.Hash, want)
	}
	return p, nil
}
