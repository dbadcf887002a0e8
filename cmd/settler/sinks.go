package main

import (
	"context"

	"github.com/ava-labs/rollup-settler/pkg/blocksource"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// cacheEvictor drops a block from the block cache once it is settled.
type cacheEvictor struct {
	cache *blocksource.Cached
}

func (cacheEvictor) Name() string { return "block-cache" }

func (e cacheEvictor) Record(_ context.Context, rec types.SettlementRecord) error {
	e.cache.Forget(rec.BlockNumber)
	return nil
}
