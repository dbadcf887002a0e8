package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Sink receives every settlement record once it is durable.
type Sink interface {
	Name() string
	Record(ctx context.Context, rec types.SettlementRecord) error
}

// Sinks fans a record out to every sink. Delivery is best-effort: failures are logged and counted
// and never returned.
type Sinks struct {
	sinks   []Sink
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewSinks(log *zap.SugaredLogger, m *metrics.Metrics, sinks ...Sink) *Sinks {
	return &Sinks{sinks: sinks, log: log, metrics: m}
}

func (s *Sinks) Record(ctx context.Context, rec types.SettlementRecord) {
	if s == nil {
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, rec); err != nil {
			s.metrics.RecordSinkFailure(sink.Name())
			s.log.Warnw("failed to deliver settlement record",
				"sink", sink.Name(),
				"block", rec.BlockNumber,
				"error", err,
			)
		}
	}
}

func (s *Sinks) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sinks)
}
