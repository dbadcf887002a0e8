// Package stage drives a single proof stage of a block through
//
//	Pending -> InputBuilt -> Submitted -> Polling -> Succeeded | Failed
//
// A mocked stage goes from Pending to Succeeded without contacting the prover.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/mock"
	"github.com/ava-labs/rollup-settler/pkg/prover"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

var (
	// ErrStageStuck is returned after MaxSubmissions submissions all timed out. The block needs an
	// operator.
	ErrStageStuck = errors.New("proof stage stuck")
	// ErrInvalidInput is returned when a stage input cannot be built from what the block provides.
	ErrInvalidInput = errors.New("invalid stage input")
)

// IsFatal reports whether retrying the stage for the same block cannot help.
func IsFatal(err error) bool {
	return errors.Is(err, prover.ErrRejected) ||
		errors.Is(err, ErrStageStuck) ||
		errors.Is(err, ErrInvalidInput)
}

// Awaiter waits for a submitted job to finish. *prover.Poller implements it.
type Awaiter interface {
	Await(ctx context.Context, job *types.ProofJob) ([]byte, error)
}

// Observer receives every state transition of a stage.
type Observer interface {
	Transition(block uint64, kind types.StageKind, from, to types.StageStatus)
}

// Config configures a Runner.
type Config struct {
	MaxSubmissions int           // submissions before a timing-out stage is declared stuck
	SubmitAttempts int           // attempts per submission on transport errors
	SubmitBackoff  time.Duration // delay between submit attempts
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{MaxSubmissions: 3, SubmitAttempts: 3, SubmitBackoff: 3 * time.Second}
}

// Runner runs proof stages.
type Runner struct {
	cfg      Config
	client   prover.Client
	awaiter  Awaiter
	mock     *mock.Controller
	builders map[types.StageKind]InputBuilder
	observer Observer
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func NewRunner(
	cfg Config,
	client prover.Client,
	awaiter Awaiter,
	mockCtl *mock.Controller,
	builders map[types.StageKind]InputBuilder,
	observer Observer,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (*Runner, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if cfg.MaxSubmissions <= 0 {
		return nil, errors.New("invalid max submissions: must be greater than 0")
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 1
	}
	if client == nil || awaiter == nil {
		if !mockCtl.Active() {
			return nil, errors.New("invalid prover: client and awaiter are required unless mocked")
		}
		for kind := range builders {
			if _, mocked := mockCtl.Fact(kind); !mocked {
				return nil, fmt.Errorf("invalid prover: client and awaiter are required for unmocked stage %s", kind)
			}
		}
	}
	return &Runner{
		cfg:      cfg,
		client:   client,
		awaiter:  awaiter,
		mock:     mockCtl,
		builders: builders,
		observer: observer,
		log:      log,
		metrics:  m,
	}, nil
}

// Run drives kind for job to a terminal status and returns its result.
func (r *Runner) Run(ctx context.Context, kind types.StageKind, job *types.BlockJob) (*types.StageResult, error) {
	start := time.Now()
	r.transition(job, kind, types.StatusPending)

	if fact, ok := r.mock.Fact(kind); ok {
		r.log.Debugw("stage mocked", "block", job.Number, "stage", kind, "fact", fact)
		r.transition(job, kind, types.StatusSucceeded)
		return types.NewFactResult(kind, fact), nil
	}

	builder, ok := r.builders[kind]
	if !ok {
		r.transition(job, kind, types.StatusFailed)
		return nil, fmt.Errorf("%w: no input builder for stage %s", ErrInvalidInput, kind)
	}
	input, err := builder.Build(ctx, job)
	if err != nil {
		r.transition(job, kind, types.StatusFailed)
		return nil, fmt.Errorf("failed to build %s input for block %d: %w", kind, job.Number, err)
	}
	r.transition(job, kind, types.StatusInputBuilt)

	for submission := 1; ; submission++ {
		pj, err := r.submit(ctx, input)
		if err != nil {
			r.transition(job, kind, types.StatusFailed)
			return nil, fmt.Errorf("failed to submit %s for block %d: %w", kind, job.Number, err)
		}
		r.transition(job, kind, types.StatusSubmitted)
		r.transition(job, kind, types.StatusPolling)

		proof, err := r.awaiter.Await(ctx, pj)
		switch {
		case err == nil:
			r.transition(job, kind, types.StatusSucceeded)
			r.metrics.ObserveStageDuration(string(kind), time.Since(start).Seconds())
			return types.NewProofResult(kind, pj.ID, proof), nil

		case errors.Is(err, prover.ErrTimeout):
			if submission >= r.cfg.MaxSubmissions {
				r.transition(job, kind, types.StatusFailed)
				return nil, fmt.Errorf("%w: %s for block %d timed out %d times (last job %s)",
					ErrStageStuck, kind, job.Number, submission, pj.ID)
			}
			r.log.Warnw("proof job timed out, resubmitting",
				"block", job.Number,
				"stage", kind,
				"job", pj.ID,
				"submission", submission,
			)
			r.transition(job, kind, types.StatusInputBuilt)

		default:
			r.transition(job, kind, types.StatusFailed)
			return nil, fmt.Errorf("%s for block %d: %w", kind, job.Number, err)
		}
	}
}

// submit sends in, retrying transport errors up to SubmitAttempts times.
func (r *Runner) submit(ctx context.Context, in prover.Input) (*types.ProofJob, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.SubmitAttempts; attempt++ {
		job, err := r.client.Submit(ctx, in)
		if err == nil {
			return job, nil
		}
		lastErr = err
		if !prover.IsTransport(err) || attempt == r.cfg.SubmitAttempts {
			break
		}
		select {
		case <-time.After(r.cfg.SubmitBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (r *Runner) transition(job *types.BlockJob, kind types.StageKind, to types.StageStatus) {
	from := job.Status
	job.Status = to
	if r.observer != nil {
		r.observer.Transition(job.Number, kind, from, to)
	}
}

// MetricsObserver counts transitions and logs them at debug level.
type MetricsObserver struct {
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func (o MetricsObserver) Transition(block uint64, kind types.StageKind, from, to types.StageStatus) {
	o.Metrics.RecordStageTransition(string(kind), string(to))
	if o.Log != nil {
		o.Log.Debugw("stage transition", "block", block, "stage", kind, "from", from, "to", to)
	}
}
