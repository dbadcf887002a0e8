package types

import (
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/crypto"
)

// StageKind identifies one of the two proof stages.
type StageKind string

const (
	StageSnos         StageKind = "snos"
	StageLayoutBridge StageKind = "layout_bridge"
)

// StageStatus is the lifecycle of a single (block, stage) pair.
//
//	Pending -> InputBuilt -> Submitted -> Polling -> Succeeded | Failed
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInputBuilt StageStatus = "input_built"
	StatusSubmitted  StageStatus = "submitted"
	StatusPolling    StageStatus = "polling"
	StatusSucceeded  StageStatus = "succeeded"
	StatusFailed     StageStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s StageStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// StageResult is the output of a finished stage: a proof from the prover, or a fact injected by
// mock mode. Digest is what the cursor store records as the stage's result digest.
type StageResult struct {
	Kind        StageKind    `json:"kind"`
	Proof       []byte       `json:"proof,omitempty"`
	Fact        *common.Hash `json:"fact,omitempty"`
	QueryID     string       `json:"queryId,omitempty"`
	Digest      common.Hash  `json:"digest"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Mocked reports whether the result carries an injected fact instead of a proof.
func (r *StageResult) Mocked() bool {
	return r != nil && r.Fact != nil
}

// NewProofResult builds a result for a proof returned by the prover.
func NewProofResult(kind StageKind, queryID string, proof []byte) *StageResult {
	return &StageResult{
		Kind:        kind,
		Proof:       proof,
		QueryID:     queryID,
		Digest:      crypto.Keccak256Hash(proof),
		CompletedAt: time.Now().UTC(),
	}
}

// NewFactResult builds a result for a mocked stage.
func NewFactResult(kind StageKind, fact common.Hash) *StageResult {
	f := fact
	return &StageResult{
		Kind:        kind,
		Fact:        &f,
		Digest:      fact,
		CompletedAt: time.Now().UTC(),
	}
}

// SettlementStatus tracks a BlockJob after its proofs are done.
type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "pending"
	SettlementSettling SettlementStatus = "settling"
	SettlementSettled  SettlementStatus = "settled"
	SettlementFailed   SettlementStatus = "failed"
)

// BlockJob is one block moving through the pipeline. The scheduler owns it while it is in flight
// and hands a copy to the settlement backend.
type BlockJob struct {
	Number     uint64
	Raw        *RawBlock
	Status     StageStatus
	Snos       *StageResult
	Bridge     *StageResult
	Settlement SettlementStatus
}

// Proved reports whether every stage required by mode has a result.
func (j *BlockJob) Proved(mode Mode) bool {
	if j == nil || j.Snos == nil {
		return false
	}
	if mode == ModePersistent {
		return j.Bridge != nil
	}
	return true
}

// ProofJob is an outstanding request to the remote proving service. It is never persisted: after
// a restart a fresh submission is made.
type ProofJob struct {
	ID          string
	SubmittedAt time.Time
	Kind        StageKind
}
