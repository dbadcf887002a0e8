package subscriber

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/blocksource"
)

// HeadSource reports the current chain head.
type HeadSource interface {
	FetchHead(ctx context.Context) (uint64, error)
}

// HeightSink receives new heads. *slidingwindow.Manager implements it.
type HeightSink interface {
	SubmitHeight(h uint64) bool
}

// Poller polls the block source for its head and submits it to the manager.
type Poller struct {
	log      *zap.SugaredLogger
	source   HeadSource
	interval time.Duration
}

func NewPoller(log *zap.SugaredLogger, source HeadSource, interval time.Duration) (*Poller, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if source == nil {
		return nil, errors.New("invalid head source: must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("invalid poll interval: must be positive")
	}
	return &Poller{log: log, source: source, interval: interval}, nil
}

// Subscribe is a BLOCKING function. It polls the head every interval and submits it to sink.
// It returns when ctx is done or when the source fails with a fatal error; transient failures
// are logged and the next tick tries again.
func (p *Poller) Subscribe(ctx context.Context, sink HeightSink) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	var last uint64
	var seen bool
	for {
		head, err := p.source.FetchHead(ctx)
		switch {
		case err == nil:
			if !seen || head > last {
				p.log.Debugw("new head", "height", head)
				if !sink.SubmitHeight(head) {
					p.log.Debugw("head channel full; window still extended", "height", head)
				}
				last, seen = head, true
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case blocksource.IsFatal(err):
			return err
		default:
			p.log.Warnw("failed to fetch head", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
