package slidingwindow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/slidingwindow/worker"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Config configures a Manager.
type Config struct {
	// Concurrency is the window size K: the number of blocks between claim and settlement.
	Concurrency        uint64
	MaxFailures        int
	RetryBackoff       time.Duration
	IdleBackoff        time.Duration
	HeightChanCapacity int
	// EndHeight, when set, makes Run return nil once every block up to it is settled.
	EndHeight  *uint64
	Settle     settlement.RetryPolicy
	Checkpoint checkpointer.Config
}

func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		MaxFailures:        3,
		RetryBackoff:       5 * time.Second,
		IdleBackoff:        5 * time.Second,
		HeightChanCapacity: 16,
		Settle:             settlement.DefaultRetryPolicy(),
		Checkpoint:         checkpointer.DefaultConfig(),
	}
}

type Manager struct {
	log     *zap.SugaredLogger
	state   *State
	worker  worker.Worker
	backend settlement.Backend
	store   checkpointer.Store
	sinks   *settlement.Sinks
	metrics *metrics.Metrics
	cfg     Config

	// One permit per block between claim and settlement.
	slots *semaphore.Weighted

	// Input for new heads (send-only by callers).
	heightChan chan uint64
	// Wake-up signal to re-run dispatching; buffered (size 1) to coalesce signals.
	workReady chan struct{}
	// Wake-up signal for the settle loop; same coalescing.
	settleReady chan struct{}
	// First fatal worker failure; Run returns it.
	fatalChan chan error

	wg sync.WaitGroup
}

// NewManager validates its arguments and returns a Manager. sinks and m may be nil.
func NewManager(
	log *zap.SugaredLogger,
	s *State,
	w worker.Worker,
	backend settlement.Backend,
	store checkpointer.Store,
	sinks *settlement.Sinks,
	m *metrics.Metrics,
	cfg Config,
) (*Manager, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if s == nil {
		return nil, errors.New("invalid state: must not be nil")
	}
	if w == nil {
		return nil, errors.New("invalid worker: must not be nil")
	}
	if backend == nil {
		return nil, errors.New("invalid settlement backend: must not be nil")
	}
	if store == nil {
		return nil, errors.New("invalid store: must not be nil")
	}
	if cfg.Concurrency == 0 {
		return nil, errors.New("invalid concurrency: must be greater than 0")
	}
	if cfg.HeightChanCapacity <= 0 {
		return nil, errors.New("invalid new heights channel capacity: must be greater than 0")
	}
	if cfg.MaxFailures <= 0 {
		return nil, errors.New("invalid max failures: must be greater than 0")
	}
	if cfg.RetryBackoff < 0 || cfg.IdleBackoff < 0 {
		return nil, errors.New("invalid backoff: must not be negative")
	}
	return &Manager{
		log:         log,
		state:       s,
		worker:      w,
		backend:     backend,
		store:       store,
		sinks:       sinks,
		metrics:     m,
		cfg:         cfg,
		slots:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		heightChan:  make(chan uint64, cfg.HeightChanCapacity),
		workReady:   make(chan struct{}, 1),
		settleReady: make(chan struct{}, 1),
		fatalChan:   make(chan error, 1),
	}, nil
}

// SubmitHeight raises the known head to h before queueing it, so the window grows even when the
// channel is full. It returns false if the channel is full.
func (m *Manager) SubmitHeight(h uint64) bool {
	m.state.SetHighest(h)
	select {
	case m.heightChan <- h:
		return true
	default:
		m.signalWorkReady()
		return false
	}
}

// Run dispatches workers over the window and settles proved blocks strictly in order until ctx
// is done, a block fails for good, or every block up to EndHeight is settled (then it returns
// nil). Worker goroutines are waited for before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	settleDone := make(chan error, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		settleDone <- m.settleLoop(ctx)
	}()

	for {
		m.dispatch(ctx)
		m.updateWindowMetrics()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-m.fatalChan:
			return err
		case err := <-settleDone:
			return err
		case h := <-m.heightChan:
			m.log.Debugw("received new head", "height", h)
		case <-m.workReady:
			// A worker finished, a backoff expired or the window slid; loop restarts.
		}
	}
}

// dispatch claims blocks while a slot is free and the window has claimable work.
func (m *Manager) dispatch(ctx context.Context) {
	for {
		if !m.slots.TryAcquire(1) {
			return
		}
		n, ok := m.state.TryClaim(time.Now(), m.cfg.Concurrency, m.cfg.EndHeight)
		if !ok {
			m.slots.Release(1)
			return
		}
		m.wg.Add(1)
		go m.process(ctx, n)
	}
}

// process runs the worker for n. On success the slot stays held until n is settled.
func (m *Manager) process(ctx context.Context, n uint64) {
	defer m.wg.Done()
	defer m.signalWorkReady()

	job, err := m.worker.Process(ctx, n)
	if err == nil {
		if err := m.state.Complete(job); err != nil {
			m.log.Errorw("failed to complete block", "block", n, "error", err)
			m.slots.Release(1)
			return
		}
		m.signalSettleReady()
		return
	}

	m.slots.Release(1)
	if ctx.Err() != nil {
		m.state.Release(n)
		return
	}

	switch {
	case errors.Is(err, worker.ErrNotReady):
		m.metrics.IncError(metrics.ErrTypeNotYetProduced)
		m.log.Debugw("block not produced yet", "block", n, "retryIn", m.cfg.IdleBackoff)
		m.deferBlock(n, m.cfg.IdleBackoff)

	case worker.IsFatal(err):
		m.metrics.IncError(metrics.ErrTypeWorker)
		m.fail(ctx, n, worker.StageOf(err), err, m.state.IncrementFailureCount(n))

	default:
		m.metrics.IncError(metrics.ErrTypeWorker)
		count := m.state.IncrementFailureCount(n)
		m.log.Warnw("failed processing block",
			"block", n,
			"stage", worker.StageOf(err),
			"attempt", count,
			"error", err,
		)
		if count >= m.cfg.MaxFailures {
			m.fail(ctx, n, worker.StageOf(err), err, count)
			return
		}
		m.deferBlock(n, m.cfg.RetryBackoff)
	}
}

func (m *Manager) deferBlock(n uint64, d time.Duration) {
	m.state.Defer(n, time.Now().Add(d))
	time.AfterFunc(d, m.signalWorkReady)
}

// fail records n in the failed list and hands the error to Run. The block stays claimed so it
// is not dispatched again before Run returns.
func (m *Manager) fail(ctx context.Context, n uint64, stage string, cause error, attempts int) {
	err := fmt.Errorf("block %d failed at stage %s after %d attempts: %w", n, stage, attempts, cause)
	m.recordFailed(ctx, n, stage, cause, attempts)
	m.log.Errorw("block failed", "block", n, "stage", stage, "attempts", attempts, "error", cause)
	select {
	case m.fatalChan <- err:
	default:
	}
}

func (m *Manager) recordFailed(ctx context.Context, n uint64, stage string, cause error, attempts int) {
	m.metrics.RecordFailedBlock(stage)
	failed := types.FailedBlock{
		BlockNumber: n,
		Stage:       stage,
		Reason:      cause.Error(),
		Attempts:    attempts,
		FailedAt:    time.Now().UTC(),
	}
	err := checkpointer.Write(ctx, m.cfg.Checkpoint, "mark failed", func(ctx context.Context) error {
		return m.store.MarkFailed(ctx, failed)
	})
	if err != nil {
		m.log.Errorw("failed to record failed block", "block", n, "error", err)
	}
}

// settleLoop settles ready blocks strictly in order.
func (m *Manager) settleLoop(ctx context.Context) error {
	for {
		if end := m.cfg.EndHeight; end != nil && m.state.GetLowest() > *end {
			m.log.Infow("end height reached", "endHeight", *end)
			return nil
		}
		job, ok := m.state.NextReady()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.settleReady:
			}
			continue
		}
		if err := m.settle(ctx, job); err != nil {
			return err
		}
	}
}

func (m *Manager) settle(ctx context.Context, job *types.BlockJob) error {
	n := job.Number
	start := time.Now()
	job.Settlement = types.SettlementSettling

	rec, err := settlement.FinalizeWithRetry(ctx, m.backend, *job, m.cfg.Settle, m.log, m.metrics)
	if err != nil {
		m.metrics.IncError(metrics.ErrTypeSettlement)
		return m.settleFailed(ctx, job, "settlement", err)
	}

	err = checkpointer.Write(ctx, m.cfg.Checkpoint, "mark settled", func(ctx context.Context) error {
		return m.store.MarkSettled(ctx, n, rec)
	})
	if err != nil {
		m.metrics.IncError(metrics.ErrTypeStore)
		return m.settleFailed(ctx, job, "checkpoint", err)
	}
	job.Settlement = types.SettlementSettled

	m.sinks.Record(ctx, rec)

	if err := m.state.AdvanceSettled(n); err != nil {
		return fmt.Errorf("%w: %w", checkpointer.ErrCursorCorruption, err)
	}
	m.slots.Release(1)
	m.metrics.RecordSettled(time.Since(start).Seconds())
	m.log.Infow("block settled",
		"block", n,
		"mode", rec.Mode,
		"recovered", rec.Recovered,
		"duration", time.Since(start),
	)
	m.signalWorkReady()
	return nil
}

func (m *Manager) settleFailed(ctx context.Context, job *types.BlockJob, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	job.Settlement = types.SettlementFailed
	m.recordFailed(ctx, job.Number, stage, err, m.cfg.Settle.Attempts)
	m.log.Errorw("settling block failed", "block", job.Number, "stage", stage, "error", err)
	return fmt.Errorf("settling block %d: %w", job.Number, err)
}

func (m *Manager) updateWindowMetrics() {
	if m.metrics == nil {
		return
	}
	highest, _ := m.state.GetHighest()
	inflight, ready := m.state.Counts()
	m.metrics.UpdateWindowMetrics(m.state.GetLowest(), highest, inflight, ready)
}

// signalWorkReady wakes the dispatch loop.
func (m *Manager) signalWorkReady() {
	select {
	case m.workReady <- struct{}{}:
	default:
	}
}

func (m *Manager) signalSettleReady() {
	select {
	case m.settleReady <- struct{}{}:
	default:
	}
}
