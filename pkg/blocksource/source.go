// Package blocksource fetches blocks produced by the execution layer.
//
// Two variants exist. The persistent source reads the rollup's own RPC. The sovereign source
// reads an independent chain and needs an explicit genesis block the first time it runs. Both
// retry transient RPC failures locally and report errors using a small taxonomy the scheduler
// understands: ErrNotYetProduced, *TransientError and *FatalError.
package blocksource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// ErrNotYetProduced is returned when the requested block is above the chain head.
var ErrNotYetProduced = errors.New("block not yet produced")

// ErrGenesisRequired is returned by a sovereign source that has neither a persisted cursor nor a
// configured genesis block.
var ErrGenesisRequired = errors.New("genesis not provided when chain head has not been persisted")

// Source is the read side of the execution layer.
type Source interface {
	FetchHead(ctx context.Context) (uint64, error)
	FetchBlock(ctx context.Context, n uint64) (*types.RawBlock, error)
}

// TransientError wraps a failure that may succeed on retry: network errors, timeouts, HTTP
// 5xx/429 and JSON-RPC server errors.
type TransientError struct {
	Method string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Method, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a failure that will not go away by retrying, such as a malformed payload.
type FatalError struct {
	Method string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s failure: %v", e.Method, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is, or wraps, a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Retry is the local backoff policy applied to transient errors.
type Retry struct {
	Attempts int           // total attempts including the first one
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // delay ceiling
}

// DefaultRetry returns the default local retry policy.
func DefaultRetry() Retry {
	return Retry{Attempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second}
}

// do runs fn until it succeeds, returns a non-transient error or the attempts are exhausted.
func (r Retry) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(r.Attempts, 1)
	delay := r.Initial

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, r.Max)
	}
	return err
}
