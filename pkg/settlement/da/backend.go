package da

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// PointerStore is the part of the cursor store the sovereign backend reads.
type PointerStore interface {
	LastDAPointer(ctx context.Context) (*types.DAPointer, error)
	HighestSettled(ctx context.Context) (uint64, bool, error)
}

// Backend settles sovereign blocks by publishing a packet per block. Each packet points at the
// previous one.
type Backend struct {
	publisher Publisher
	store     PointerStore
	namespace string
	log       *zap.SugaredLogger

	mu     sync.Mutex
	loaded bool
	prev   *types.DAPointer
}

func NewBackend(publisher Publisher, store PointerStore, namespace string, log *zap.SugaredLogger) (*Backend, error) {
	if publisher == nil {
		return nil, errors.New("invalid publisher: must not be nil")
	}
	if store == nil {
		return nil, errors.New("invalid store: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if _, err := NamespaceV0([]byte(namespace)); err != nil {
		return nil, fmt.Errorf("invalid celestia namespace %q: %w", namespace, err)
	}
	return &Backend{publisher: publisher, store: store, namespace: namespace, log: log}, nil
}

func (b *Backend) Mode() types.Mode { return types.ModeSovereign }

// LastSettled reports the cursor store's view: a DA network has no notion of a settled head.
func (b *Backend) LastSettled(ctx context.Context) (uint64, bool, error) {
	return b.store.HighestSettled(ctx)
}

// Finalize publishes the packet of job. Calls are serialized because every packet embeds the
// pointer of the one before.
func (b *Backend) Finalize(ctx context.Context, job types.BlockJob) (types.SettlementRecord, error) {
	proof, err := packetProof(job)
	if err != nil {
		return types.SettlementRecord{}, settlement.Fatal(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		prev, err := b.store.LastDAPointer(ctx)
		if err != nil {
			return types.SettlementRecord{}, settlement.Retryable(fmt.Errorf("failed to load last DA pointer: %w", err))
		}
		b.prev = prev
		b.loaded = true
	}

	pkt := Packet{Prev: b.prev, BlockNumber: job.Number, Proof: proof}
	data, err := pkt.Encode()
	if err != nil {
		return types.SettlementRecord{}, settlement.Fatal(err)
	}

	ptr, err := b.publisher.Submit(ctx, b.namespace, data)
	if err != nil {
		return types.SettlementRecord{}, err
	}
	b.prev = &ptr

	b.log.Debugw("sovereign packet published",
		"block", job.Number,
		"height", ptr.Height,
		"chained", pkt.Prev != nil,
	)
	return types.SettlementRecord{
		BlockNumber: job.Number,
		Mode:        types.ModeSovereign,
		DA:          &ptr,
		Namespace:   b.namespace,
		SettledAt:   time.Now().UTC(),
	}, nil
}

// packetProof returns the SNOS proof as JSON. A mocked stage publishes its fact instead.
func packetProof(job types.BlockJob) (json.RawMessage, error) {
	if job.Snos == nil {
		return nil, fmt.Errorf("block %d has no snos result", job.Number)
	}
	if job.Snos.Mocked() {
		return json.Marshal(map[string]string{"fact": job.Snos.Fact.Hex()})
	}
	if json.Valid(job.Snos.Proof) {
		return json.RawMessage(job.Snos.Proof), nil
	}
	return json.Marshal(job.Snos.Proof)
}

var _ settlement.Backend = (*Backend)(nil)
