package settlement

import (
	"context"

	pipeline "github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Sink adapts a Repository to the pipeline's settlement sinks.
type Sink struct {
	repo Repository
}

var _ pipeline.Sink = (*Sink)(nil)

func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

func (s *Sink) Name() string { return "clickhouse" }

func (s *Sink) Record(ctx context.Context, rec types.SettlementRecord) error {
	return s.repo.WriteRecord(ctx, rec)
}
