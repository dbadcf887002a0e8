package blocksource

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Cached keeps recently fetched blocks so that a retried block is not fetched again.
type Cached struct {
	Source
	blocks *lru.Cache[uint64, *types.RawBlock]
}

// NewCached wraps src with an LRU cache of size blocks.
func NewCached(src Source, size int) (*Cached, error) {
	blocks, err := lru.New[uint64, *types.RawBlock](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &Cached{Source: src, blocks: blocks}, nil
}

func (c *Cached) FetchBlock(ctx context.Context, n uint64) (*types.RawBlock, error) {
	if b, ok := c.blocks.Get(n); ok {
		return b, nil
	}
	b, err := c.Source.FetchBlock(ctx, n)
	if err != nil {
		return nil, err
	}
	c.blocks.Add(n, b)
	return b, nil
}

// Forget drops n from the cache once the block is settled.
func (c *Cached) Forget(n uint64) {
	c.blocks.Remove(n)
}
