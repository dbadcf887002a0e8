package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// ErrNotReady is returned when the block does not exist yet. It is not a failure.
var ErrNotReady = errors.New("block not ready")

// Worker takes one block from fetch to proved.
type Worker interface {
	Process(ctx context.Context, n uint64) (*types.BlockJob, error)
}

// Error is a worker failure attributed to a pipeline stage.
type Error struct {
	Block uint64
	Stage string
	Err   error
	// Fatal is set when retrying the block cannot help.
	Fatal bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("block %d failed at %s: %v", e.Block, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err is a worker error marked fatal.
func IsFatal(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Fatal
}

// StageOf returns the stage err is attributed to, or "worker" when unknown.
func StageOf(err error) string {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Stage
	}
	return "worker"
}
