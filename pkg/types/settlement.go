package types

import (
	"time"

	"github.com/ava-labs/libevm/common"
)

// DAPointer locates a blob on the data-availability network.
type DAPointer struct {
	Height     uint64   `json:"height"`
	Commitment [32]byte `json:"commitment"`
}

// SettlementRecord is the immutable result of finalizing one block.
//
// Persistent mode fills TxHash (and DA when a blob was published alongside the state update).
// Sovereign mode fills DA and Namespace. Recovered is set when the block was found already settled
// on chain and no new transaction was sent.
type SettlementRecord struct {
	BlockNumber uint64       `json:"blockNumber"`
	Mode        Mode         `json:"mode"`
	TxHash      *common.Hash `json:"txHash,omitempty"`
	StateRoot   *common.Hash `json:"stateRoot,omitempty"`
	DA          *DAPointer   `json:"da,omitempty"`
	Namespace   string       `json:"namespace,omitempty"`
	SettledAt   time.Time    `json:"settledAt"`
	Recovered   bool         `json:"recovered,omitempty"`
}

// CursorRecord is the persisted progress of a pipeline.
type CursorRecord struct {
	PipelineID  string
	LastSettled uint64
	HasSettled  bool
	InProgress  []uint64
}

// Next returns the first block that still has to be settled, falling back to start when nothing
// was settled yet.
func (c CursorRecord) Next(start uint64) uint64 {
	if !c.HasSettled {
		return start
	}
	return c.LastSettled + 1
}

// FailedBlock is an entry of the failed-blocks list an operator reviews and acknowledges.
type FailedBlock struct {
	BlockNumber uint64    `json:"blockNumber"`
	Stage       string    `json:"stage"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failedAt"`
	Handled     bool      `json:"handled"`
}
