// Package settlement finalizes proved blocks, either through a state update on the settlement
// chain or by publishing the proof to a data-availability network.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

var (
	// ErrRetryable marks a failure that may succeed when the identical payload is sent again.
	ErrRetryable = errors.New("retryable settlement failure")
	// ErrFatal marks a failure that halts the pipeline.
	ErrFatal = errors.New("fatal settlement failure")
	// ErrAlreadySettledMismatch is returned when the settlement target is ahead of the local
	// cursor in a way that cannot be reconciled.
	ErrAlreadySettledMismatch = errors.New("settlement target already past block")
)

// Backend finalizes one block at a time, in order.
type Backend interface {
	// Finalize settles job. It is safe to call again with the same job after a crash: a block the
	// target already shows as settled yields a record with Recovered set.
	Finalize(ctx context.Context, job types.BlockJob) (types.SettlementRecord, error)

	// LastSettled returns the last block the settlement target considers settled.
	LastSettled(ctx context.Context) (n uint64, exists bool, err error)

	Mode() types.Mode
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }

// Retryable marks err as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrRetryable, err: err}
}

// Fatal marks err as fatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrFatal, err: err}
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// Mismatch builds the fatal error returned when the target reports block reported while n is
// being settled.
func Mismatch(n, reported uint64) error {
	return Fatal(fmt.Errorf("%w: settling %d but target reports %d", ErrAlreadySettledMismatch, n, reported))
}
