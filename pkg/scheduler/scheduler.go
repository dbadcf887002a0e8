package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/metrics"
)

// Watermark reports the next block to settle. *slidingwindow.State implements it.
type Watermark interface {
	GetLowest() uint64
}

// Pruner is the part of the cursor store the scheduler needs.
type Pruner interface {
	Prune(ctx context.Context, below uint64) (int, error)
}

// Start removes the proving artifacts of settled blocks every interval. Settlement records are
// kept. It returns nil when ctx is done and an error when a prune keeps failing.
func Start(
	ctx context.Context,
	s Watermark,
	store Pruner,
	interval time.Duration,
	cfg checkpointer.Config,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	var prunedBelow uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			lowest := s.GetLowest()
			if lowest <= prunedBelow {
				continue
			}
			var removed int
			err := checkpointer.Write(ctx, cfg, "prune artifacts", func(ctx context.Context) error {
				var err error
				removed, err = store.Prune(ctx, lowest)
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				m.IncError(metrics.ErrTypeStore)
				return fmt.Errorf("failed to prune artifacts below %d: %w", lowest, err)
			}
			prunedBelow = lowest
			if removed > 0 {
				m.AddBlocksPruned(removed)
				log.Debugw("pruned settled block artifacts", "below", lowest, "blocks", removed)
			}
		}
	}
}
