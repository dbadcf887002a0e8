package blocksource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/rpc"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// JSON-RPC error codes with a fixed meaning.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeBlockNotFound  = 24
)

// Caller is the subset of *rpc.Client used by the sources.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

var _ Caller = (*rpc.Client)(nil)

// Config configures a JSON-RPC backed source.
type Config struct {
	HeadMethod  string // defaults to starknet_blockNumber
	BlockMethod string // defaults to starknet_getBlockWithTxHashes
	Retry       Retry
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeadMethod == "" {
		c.HeadMethod = "starknet_blockNumber"
	}
	if c.BlockMethod == "" {
		c.BlockMethod = "starknet_getBlockWithTxHashes"
	}
	if c.Retry.Attempts == 0 {
		c.Retry = DefaultRetry()
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

type blockID struct {
	BlockNumber uint64 `json:"block_number"`
}

// rpcBlock is the subset of a block response the pipeline needs. Pending blocks have no hash.
type rpcBlock struct {
	BlockHash    *string           `json:"block_hash"`
	ParentHash   string            `json:"parent_hash"`
	BlockNumber  *uint64           `json:"block_number"`
	Timestamp    uint64            `json:"timestamp"`
	Transactions []json.RawMessage `json:"transactions"`
}

type rpcSource struct {
	client  Caller
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func newRPCSource(client Caller, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*rpcSource, error) {
	if client == nil {
		return nil, errors.New("invalid rpc client: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	return &rpcSource{client: client, cfg: cfg.withDefaults(), log: log, metrics: m}, nil
}

func (s *rpcSource) FetchHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		return s.call(ctx, &head, s.cfg.HeadMethod)
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}

func (s *rpcSource) FetchBlock(ctx context.Context, n uint64) (*types.RawBlock, error) {
	var raw json.RawMessage
	err := s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		return s.call(ctx, &raw, s.cfg.BlockMethod, blockID{BlockNumber: n})
	})
	if err != nil {
		return nil, err
	}
	return decodeBlock(s.cfg.BlockMethod, n, raw)
}

func (s *rpcSource) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := s.client.CallContext(ctx, result, method, args...)
	s.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	if err != nil {
		classified := classify(method, err)
		if IsTransient(classified) {
			s.log.Debugw("transient rpc failure", "method", method, "error", err)
		}
		return classified
	}
	return nil
}

func decodeBlock(method string, n uint64, raw json.RawMessage) (*types.RawBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("block %d: %w", n, ErrNotYetProduced)
	}
	var b rpcBlock
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &FatalError{Method: method, Err: fmt.Errorf("malformed block %d: %w", n, err)}
	}
	if b.BlockHash == nil || b.BlockNumber == nil {
		// Pending block: the head has not reached n yet.
		return nil, fmt.Errorf("block %d is pending: %w", n, ErrNotYetProduced)
	}
	if *b.BlockNumber != n {
		return nil, &FatalError{Method: method, Err: fmt.Errorf("asked for block %d, got %d", n, *b.BlockNumber)}
	}
	return &types.RawBlock{
		Number:     n,
		Hash:       common.HexToHash(*b.BlockHash),
		ParentHash: common.HexToHash(b.ParentHash),
		Timestamp:  b.Timestamp,
		TxCount:    len(b.Transactions),
		Payload:    raw,
	}, nil
}

// classify maps an rpc client error onto the source error taxonomy.
func classify(method string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeBlockNotFound:
			return fmt.Errorf("%s: %w", method, ErrNotYetProduced)
		case codeMethodNotFound, codeInvalidParams:
			return &FatalError{Method: method, Err: err}
		default:
			return &TransientError{Method: method, Err: err}
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == 429 {
			return &TransientError{Method: method, Err: err}
		}
		return &FatalError{Method: method, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &FatalError{Method: method, Err: err}
	}

	// Network failures, timeouts, connection resets.
	return &TransientError{Method: method, Err: err}
}

// Persistent reads blocks from the rollup's own RPC.
type Persistent struct {
	*rpcSource
}

// NewPersistent returns a source over the rollup RPC.
func NewPersistent(client Caller, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Persistent, error) {
	src, err := newRPCSource(client, cfg, log, m)
	if err != nil {
		return nil, err
	}
	return &Persistent{rpcSource: src}, nil
}

// Sovereign reads blocks from an independent chain. Without a persisted cursor it starts at the
// configured genesis block.
type Sovereign struct {
	*rpcSource
	genesis *uint64
}

// NewSovereign returns a source over an independent chain RPC. genesis may be nil when a cursor
// is known to exist.
func NewSovereign(
	client Caller,
	cfg Config,
	genesis *uint64,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (*Sovereign, error) {
	src, err := newRPCSource(client, cfg, log, m)
	if err != nil {
		return nil, err
	}
	return &Sovereign{rpcSource: src, genesis: genesis}, nil
}

// StartBlock returns the first block to process given the persisted cursor.
func (s *Sovereign) StartBlock(cursorExists bool, lastSettled uint64) (uint64, error) {
	if cursorExists {
		return lastSettled + 1, nil
	}
	if s.genesis == nil {
		return 0, ErrGenesisRequired
	}
	return *s.genesis, nil
}

var (
	_ Source = (*Persistent)(nil)
	_ Source = (*Sovereign)(nil)
)
