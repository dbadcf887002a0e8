package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// RetryPolicy bounds the retries of retryable settlement errors.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the first attempt plus three retries spaced by three seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Backoff: 3 * time.Second, MaxBackoff: 30 * time.Second}
}

// FinalizeWithRetry calls b.Finalize with the identical job until it succeeds, fails with a
// non-retryable error or the attempts are exhausted. The last error is returned in that case and
// is still marked retryable; callers treat exhaustion as fatal.
func FinalizeWithRetry(
	ctx context.Context,
	b Backend,
	job types.BlockJob,
	policy RetryPolicy,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (types.SettlementRecord, error) {
	attempts := max(policy.Attempts, 1)
	backoff := policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		rec, err := b.Finalize(ctx, job)
		m.RecordSettlementAttempt(err)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return types.SettlementRecord{}, ctx.Err()
		}
		if !IsRetryable(err) {
			return types.SettlementRecord{}, err
		}

		log.Warnw("retryable settlement failure",
			"block", job.Number,
			"attempt", attempt,
			"maxAttempts", attempts,
			"error", err,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return types.SettlementRecord{}, ctx.Err()
		}
		if policy.MaxBackoff > 0 {
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}
	return types.SettlementRecord{}, fmt.Errorf("settling block %d failed after %d attempts: %w", job.Number, attempts, lastErr)
}
