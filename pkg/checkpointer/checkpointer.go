package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// ErrCursorCorruption is returned when a write would break the ordering of the settled cursor,
// for example marking block n settled while n-1 is not. It is never retried.
var ErrCursorCorruption = errors.New("cursor corruption")

// Store abstracts the durable progress of a pipeline: the last settled block, per-block proving
// traces and the failed-blocks list. Every write is atomic: a call that returned is durable and a
// call that was interrupted left nothing behind.
type Store interface {
	// Initialize ensures the underlying storage is ready. It is idempotent.
	Initialize(ctx context.Context) error

	// Load returns the cursor record of the pipeline. A pipeline that never settled anything has
	// HasSettled false.
	Load(ctx context.Context) (types.CursorRecord, error)

	// MarkFetched records that block n was fetched from the block source.
	MarkFetched(ctx context.Context, n uint64) error

	// MarkStageDone stores the result of a finished proof stage for block n.
	MarkStageDone(ctx context.Context, n uint64, kind types.StageKind, result *types.StageResult) error

	// StageResult returns a previously stored stage result.
	StageResult(ctx context.Context, n uint64, kind types.StageKind) (*types.StageResult, bool, error)

	// MarkSettled appends the settlement record for n and advances the cursor. n must be
	// last_settled+1 (or any block when nothing was settled yet). Marking an already settled
	// block is a no-op; skipping ahead returns ErrCursorCorruption.
	MarkSettled(ctx context.Context, n uint64, record types.SettlementRecord) error

	// HighestSettled returns the last settled block and whether one exists.
	HighestSettled(ctx context.Context) (n uint64, exists bool, err error)

	// SettlementRecord returns the stored record of a settled block.
	SettlementRecord(ctx context.Context, n uint64) (*types.SettlementRecord, bool, error)

	// LastDAPointer returns the data-availability pointer of the newest record carrying one.
	LastDAPointer(ctx context.Context) (*types.DAPointer, error)

	MarkFailed(ctx context.Context, failed types.FailedBlock) error
	FailedBlocks(ctx context.Context, includeHandled bool) ([]types.FailedBlock, error)
	MarkFailedHandled(ctx context.Context, n uint64) error

	// Prune removes the proving traces of blocks strictly below the given block. Settlement
	// records are kept. It returns the number of blocks removed.
	Prune(ctx context.Context, below uint64) (int, error)

	// Delete removes every key of the pipeline.
	Delete(ctx context.Context) error
}

// Write runs fn with a per-attempt timeout until it succeeds or cfg.MaxRetries retries are spent.
//
// Returns ctx.Err() on cancellation. ErrCursorCorruption is returned immediately.
func Write(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = fn(writeCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrCursorCorruption) {
			return lastErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to %s after %d attempts: %w", op, cfg.MaxRetries+1, lastErr)
}
