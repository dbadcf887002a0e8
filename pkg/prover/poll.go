package prover

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Policy controls how Await polls a job.
type Policy struct {
	Initial    time.Duration // first poll interval
	Ceiling    time.Duration // maximum poll interval
	Multiplier float64       // growth factor applied after every poll
	MaxWait    time.Duration // total wait before ErrTimeout
}

// DefaultPolicy returns the default polling policy.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    10 * time.Second,
		Ceiling:    2 * time.Minute,
		Multiplier: 1.5,
		MaxWait:    4 * time.Hour,
	}
}

// Poller polls jobs of one client with a limiter shared across all jobs.
type Poller struct {
	client  Client
	policy  Policy
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewPoller returns a Poller that issues at most rps polls per second across all jobs. A
// non-positive rps disables the limit.
func NewPoller(client Client, policy Policy, rps float64, log *zap.SugaredLogger, m *metrics.Metrics) *Poller {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if policy.Initial <= 0 {
		policy.Initial = time.Millisecond
	}
	if policy.Ceiling < policy.Initial {
		policy.Ceiling = policy.Initial
	}
	return &Poller{
		client:  client,
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		metrics: m,
	}
}

// Await polls job until it succeeds, fails or the policy's MaxWait elapses.
//
// Transport errors during polling do not end the wait; they are logged and polling continues.
// A remote failure is returned as *RejectedError and a timeout as ErrTimeout.
func (p *Poller) Await(ctx context.Context, job *types.ProofJob) ([]byte, error) {
	deadline := time.Now().Add(p.policy.MaxWait)
	interval := p.policy.Initial
	transportErrors := 0

	for {
		wait := min(interval, time.Until(deadline))
		if wait <= 0 {
			return nil, fmt.Errorf("job %s after %s: %w", job.ID, p.policy.MaxWait, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		out, err := p.client.Poll(ctx, job)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && IsTransport(err):
			transportErrors++
			p.metrics.RecordProverPoll("error")
			p.log.Warnw("transport error polling proof job",
				"job", job.ID,
				"stage", job.Kind,
				"consecutive", transportErrors,
				"error", err,
			)
		case err != nil:
			return nil, err
		default:
			transportErrors = 0
			p.metrics.RecordProverPoll(out.Status.String())
			switch out.Status {
			case Succeeded:
				return out.Proof, nil
			case Failed:
				return nil, &RejectedError{JobID: job.ID, Reason: out.Reason}
			}
		}

		interval = min(time.Duration(float64(interval)*p.policy.Multiplier), p.policy.Ceiling)
	}
}

// Await is a convenience wrapper for a one-off wait without a shared limiter.
func Await(ctx context.Context, client Client, job *types.ProofJob, policy Policy, log *zap.SugaredLogger) ([]byte, error) {
	return NewPoller(client, policy, 0, log, nil).Await(ctx, job)
}
