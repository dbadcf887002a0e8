package slidingwindow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartGapWatchdog warns while the settlement lag (head minus next block to settle) exceeds
// maxGap. It blocks until ctx is done.
func StartGapWatchdog(ctx context.Context, log *zap.SugaredLogger, s *State, interval time.Duration, maxGap uint64) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			highest, known := s.GetHighest()
			lowest := s.GetLowest()
			if !known || highest < lowest {
				// Head not observed yet, or everything up to it is settled.
				continue
			}
			if gap := highest - lowest; gap > maxGap {
				log.Warnw("settlement lag too large", "gap", gap, "highest", highest, "lowest", lowest)
			}
		}
	}
}
