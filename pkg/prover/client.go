// Package prover talks to the remote proving service. Jobs are submitted once and polled until
// they reach a terminal status; Await implements the polling policy shared by every client.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// ErrTimeout is returned by Await when a job did not finish within the policy's MaxWait.
var ErrTimeout = errors.New("proof job timed out")

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("proof job rejected")

// Input is what a stage submits to the prover.
type Input struct {
	Kind       types.StageKind
	Block      uint64
	ExternalID string

	// Pie is the zipped SNOS execution trace (SNOS stage).
	Pie []byte

	// Program and ProgramInput are the layout-bridge verifier program and its input (bridge stage).
	Program      []byte
	ProgramInput []byte
}

// Client submits proof jobs and polls their status.
type Client interface {
	Submit(ctx context.Context, in Input) (*types.ProofJob, error)
	Poll(ctx context.Context, job *types.ProofJob) (Outcome, error)
}

// OutcomeStatus is the status of a polled job.
type OutcomeStatus int

const (
	Running OutcomeStatus = iota
	Succeeded
	Failed
)

func (s OutcomeStatus) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome is the result of a single poll. Proof is set when Status is Succeeded and Reason when
// it is Failed.
type Outcome struct {
	Status OutcomeStatus
	Proof  []byte
	Reason string
}

// TransportError is a retryable failure to reach the service: network errors, 5xx and 429.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("prover %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("prover %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a terminal failure reported by the service for a job or a submission.
type RejectedError struct {
	JobID  string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.JobID == "" {
		return "proof submission rejected: " + e.Reason
	}
	return fmt.Sprintf("proof job %s rejected: %s", e.JobID, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
