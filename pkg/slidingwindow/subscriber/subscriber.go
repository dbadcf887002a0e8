package subscriber

import (
	"context"
)

// Subscriber feeds chain heads to the manager until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, sink HeightSink) error
}

var _ Subscriber = (*Poller)(nil)
