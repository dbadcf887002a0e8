package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/blocksource"
	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/stage"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

const (
	stageFetch = "fetch"
	stageStore = "store"
)

// StageRunner runs one proof stage of a block. *stage.Runner implements it.
type StageRunner interface {
	Run(ctx context.Context, kind types.StageKind, job *types.BlockJob) (*types.StageResult, error)
}

// MockFacts reports the fact a mocked stage is replaced with. *mock.Controller implements it.
type MockFacts interface {
	Fact(kind types.StageKind) (common.Hash, bool)
}

// ProvingWorker fetches a block and runs the proof stages its mode requires. Finished stages are
// persisted, and a block processed again after a failure or a restart reuses them.
type ProvingWorker struct {
	source blocksource.Source
	store  checkpointer.Store
	runner StageRunner
	mocks  MockFacts
	mode   types.Mode
	cpCfg  checkpointer.Config
	log    *zap.SugaredLogger
}

func NewProvingWorker(
	source blocksource.Source,
	store checkpointer.Store,
	runner StageRunner,
	mocks MockFacts,
	mode types.Mode,
	cpCfg checkpointer.Config,
	log *zap.SugaredLogger,
) (*ProvingWorker, error) {
	if source == nil {
		return nil, errors.New("invalid block source: must not be nil")
	}
	if store == nil {
		return nil, errors.New("invalid store: must not be nil")
	}
	if runner == nil {
		return nil, errors.New("invalid stage runner: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	return &ProvingWorker{
		source: source,
		store:  store,
		runner: runner,
		mocks:  mocks,
		mode:   mode,
		cpCfg:  cpCfg,
		log:    log,
	}, nil
}

// Stages returns the proof stages mode requires, in order.
func Stages(mode types.Mode) []types.StageKind {
	if mode == types.ModeSovereign {
		return []types.StageKind{types.StageSnos}
	}
	return []types.StageKind{types.StageSnos, types.StageLayoutBridge}
}

func (w *ProvingWorker) Process(ctx context.Context, n uint64) (*types.BlockJob, error) {
	start := time.Now()
	w.log.Debugw("worker starting block processing", "block", n)

	raw, err := w.source.FetchBlock(ctx, n)
	if errors.Is(err, blocksource.ErrNotYetProduced) {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if err != nil {
		return nil, &Error{Block: n, Stage: stageFetch, Err: err, Fatal: blocksource.IsFatal(err)}
	}

	err = checkpointer.Write(ctx, w.cpCfg, "mark fetched", func(ctx context.Context) error {
		return w.store.MarkFetched(ctx, n)
	})
	if err != nil {
		return nil, storeError(n, err)
	}

	job := &types.BlockJob{
		Number:     n,
		Raw:        raw,
		Status:     types.StatusPending,
		Settlement: types.SettlementPending,
	}
	for _, kind := range Stages(w.mode) {
		res, err := w.stage(ctx, kind, job)
		if err != nil {
			job.Status = types.StatusFailed
			return nil, err
		}
		switch kind {
		case types.StageSnos:
			job.Snos = res
		case types.StageLayoutBridge:
			job.Bridge = res
		}
	}
	job.Status = types.StatusSucceeded

	w.log.Debugw("block proved",
		"block", n,
		"hash", raw.Hash.Hex(),
		"txs", raw.TxCount,
		"duration", time.Since(start),
	)
	return job, nil
}

func (w *ProvingWorker) stage(ctx context.Context, kind types.StageKind, job *types.BlockJob) (*types.StageResult, error) {
	n := job.Number
	stored, found, err := w.store.StageResult(ctx, n, kind)
	if err != nil {
		return nil, storeError(n, err)
	}
	switch {
	case found && w.reusable(kind, stored):
		w.log.Debugw("reusing stored stage result", "block", n, "stage", kind, "digest", stored.Digest.Hex())
		return stored, nil
	case found:
		w.log.Warnw("discarding stored mock result, stage is no longer mocked with this fact",
			"block", n,
			"stage", kind,
			"fact", stored.Fact.Hex(),
		)
	}

	res, err := w.runner.Run(ctx, kind, job)
	if err != nil {
		return nil, &Error{Block: n, Stage: string(kind), Err: err, Fatal: stage.IsFatal(err)}
	}
	err = checkpointer.Write(ctx, w.cpCfg, "mark stage done", func(ctx context.Context) error {
		return w.store.MarkStageDone(ctx, n, kind, res)
	})
	if err != nil {
		return nil, storeError(n, err)
	}
	return res, nil
}

// reusable reports whether a stored result may stand in for running kind again. A mocked result
// only counts while the same fact is still configured for the stage.
func (w *ProvingWorker) reusable(kind types.StageKind, stored *types.StageResult) bool {
	if !stored.Mocked() {
		return true
	}
	if w.mocks == nil {
		return false
	}
	fact, ok := w.mocks.Fact(kind)
	return ok && fact == *stored.Fact
}

func storeError(n uint64, err error) error {
	return &Error{Block: n, Stage: stageStore, Err: err, Fatal: errors.Is(err, checkpointer.ErrCursorCorruption)}
}
