package types

import (
	"encoding/json"

	"github.com/ava-labs/libevm/common"
)

// Mode selects how finished blocks are finalized.
type Mode string

const (
	// ModePersistent settles through a state update on the settlement-chain core contract.
	ModePersistent Mode = "persistent"
	// ModeSovereign publishes the SNOS proof as a blob on the data-availability network.
	ModeSovereign Mode = "sovereign"
)

// ParseMode returns the Mode for s or an error for unknown values.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePersistent, ModeSovereign:
		return Mode(s), nil
	default:
		return "", &UnknownModeError{Mode: s}
	}
}

type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return "unknown mode: " + e.Mode + " (expected persistent or sovereign)"
}

// RawBlock is the payload returned by a block source. Payload holds the untouched RPC response
// so input builders can forward it to the PIE generator.
type RawBlock struct {
	Number     uint64          `json:"number"`
	Hash       common.Hash     `json:"hash"`
	ParentHash common.Hash     `json:"parentHash"`
	Timestamp  uint64          `json:"timestamp"`
	TxCount    int             `json:"txCount"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
