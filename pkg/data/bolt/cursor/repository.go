package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

var _ checkpointer.Store = (*Repository)(nil)

// Repository is a bbolt-backed checkpointer.Store. Each pipeline lives in its own top-level
// bucket so several pipelines can share one database file.
type Repository struct {
	db         *bolt.DB
	pipelineID []byte
	log        *zap.SugaredLogger
}

// Open opens (or creates) the database at path and returns a store scoped to pipelineID.
func Open(path, pipelineID string, log *zap.SugaredLogger) (*Repository, error) {
	if path == "" {
		return nil, errors.New("invalid db path: must not be empty")
	}
	if pipelineID == "" {
		return nil, errors.New("invalid pipeline id: must not be empty")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor db %s: %w", path, err)
	}
	return &Repository{db: db, pipelineID: []byte(pipelineID), log: log}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Initialize creates the pipeline buckets.
func (r *Repository) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(r.pipelineID)
		if err != nil {
			return fmt.Errorf("failed to create pipeline bucket: %w", err)
		}
		for _, name := range childBuckets {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func (r *Repository) Load(ctx context.Context) (types.CursorRecord, error) {
	rec := types.CursorRecord{PipelineID: string(r.pipelineID)}
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	err := r.view(func(root *bolt.Bucket) error {
		rec.LastSettled, rec.HasSettled = lastSettled(root)

		seen := make(map[uint64]struct{})
		collect := func(k, _ []byte) error {
			n := decodeBlockKey(k)
			if rec.HasSettled && n <= rec.LastSettled {
				return nil
			}
			seen[n] = struct{}{}
			return nil
		}
		if err := root.Bucket(fetchedBucket).ForEach(collect); err != nil {
			return err
		}
		if err := root.Bucket(stagesBucket).ForEach(collect); err != nil {
			return err
		}
		for n := range seen {
			rec.InProgress = append(rec.InProgress, n)
		}
		sort.Slice(rec.InProgress, func(i, j int) bool { return rec.InProgress[i] < rec.InProgress[j] })
		return nil
	})
	return rec, err
}

func (r *Repository) MarkFetched(ctx context.Context, n uint64) error {
	return r.update(ctx, func(root *bolt.Bucket) error {
		return root.Bucket(fetchedBucket).Put(blockKey(n), fetchedValue(time.Now()))
	})
}

func (r *Repository) MarkStageDone(
	ctx context.Context,
	n uint64,
	kind types.StageKind,
	result *types.StageResult,
) error {
	if result == nil {
		return fmt.Errorf("nil stage result for block %d stage %s", n, kind)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode stage result: %w", err)
	}
	return r.update(ctx, func(root *bolt.Bucket) error {
		return root.Bucket(stagesBucket).Put(stageKey(n, kind), raw)
	})
}

func (r *Repository) StageResult(
	ctx context.Context,
	n uint64,
	kind types.StageKind,
) (*types.StageResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var res *types.StageResult
	err := r.view(func(root *bolt.Bucket) error {
		raw := root.Bucket(stagesBucket).Get(stageKey(n, kind))
		if raw == nil {
			return nil
		}
		res = &types.StageResult{}
		return json.Unmarshal(raw, res)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read stage result: %w", err)
	}
	return res, res != nil, nil
}

// MarkSettled appends the record and advances the cursor in one transaction.
func (r *Repository) MarkSettled(ctx context.Context, n uint64, record types.SettlementRecord) error {
	if record.BlockNumber != n {
		return fmt.Errorf("record is for block %d, not %d", record.BlockNumber, n)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode settlement record: %w", err)
	}
	return r.update(ctx, func(root *bolt.Bucket) error {
		last, exists := lastSettled(root)
		if exists {
			if n <= last {
				r.log.Debugw("block already settled, skipping",
					"block", n,
					"lastSettled", last,
				)
				return nil
			}
			if n != last+1 {
				return fmt.Errorf("%w: cannot settle block %d, last settled is %d", checkpointer.ErrCursorCorruption, n, last)
			}
		}

		if err := root.Bucket(settlementsBucket).Put(blockKey(n), raw); err != nil {
			return err
		}
		if err := root.Bucket(metaBucket).Put(lastSettledKey, blockKey(n)); err != nil {
			return err
		}
		return root.Bucket(fetchedBucket).Delete(blockKey(n))
	})
}

func (r *Repository) HighestSettled(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		n      uint64
		exists bool
	)
	err := r.view(func(root *bolt.Bucket) error {
		n, exists = lastSettled(root)
		return nil
	})
	return n, exists, err
}

func (r *Repository) SettlementRecord(ctx context.Context, n uint64) (*types.SettlementRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var rec *types.SettlementRecord
	err := r.view(func(root *bolt.Bucket) error {
		raw := root.Bucket(settlementsBucket).Get(blockKey(n))
		if raw == nil {
			return nil
		}
		rec = &types.SettlementRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read settlement record: %w", err)
	}
	return rec, rec != nil, nil
}

func (r *Repository) LastDAPointer(ctx context.Context) (*types.DAPointer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ptr *types.DAPointer
	err := r.view(func(root *bolt.Bucket) error {
		c := root.Bucket(settlementsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec types.SettlementRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.DA != nil {
				ptr = rec.DA
				return nil
			}
		}
		return nil
	})
	return ptr, err
}

func (r *Repository) MarkFailed(ctx context.Context, failed types.FailedBlock) error {
	raw, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed block: %w", err)
	}
	return r.update(ctx, func(root *bolt.Bucket) error {
		return root.Bucket(failedBucket).Put(blockKey(failed.BlockNumber), raw)
	})
}

// FailedBlocks returns the failed-blocks list in block order.
func (r *Repository) FailedBlocks(ctx context.Context, includeHandled bool) ([]types.FailedBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []types.FailedBlock
	err := r.view(func(root *bolt.Bucket) error {
		return root.Bucket(failedBucket).ForEach(func(_, v []byte) error {
			var fb types.FailedBlock
			if err := json.Unmarshal(v, &fb); err != nil {
				return err
			}
			if fb.Handled && !includeHandled {
				return nil
			}
			out = append(out, fb)
			return nil
		})
	})
	return out, err
}

func (r *Repository) MarkFailedHandled(ctx context.Context, n uint64) error {
	return r.update(ctx, func(root *bolt.Bucket) error {
		b := root.Bucket(failedBucket)
		raw := b.Get(blockKey(n))
		if raw == nil {
			return fmt.Errorf("block %d is not in the failed list", n)
		}
		var fb types.FailedBlock
		if err := json.Unmarshal(raw, &fb); err != nil {
			return err
		}
		fb.Handled = true
		updated, err := json.Marshal(fb)
		if err != nil {
			return err
		}
		return b.Put(blockKey(n), updated)
	})
}

func (r *Repository) Prune(ctx context.Context, below uint64) (int, error) {
	removed := make(map[uint64]struct{})
	err := r.update(ctx, func(root *bolt.Bucket) error {
		for _, name := range [][]byte{fetchedBucket, stagesBucket} {
			b := root.Bucket(name)
			var keys [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil && decodeBlockKey(k) < below; k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed[decodeBlockKey(k)] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune below %d: %w", below, err)
	}
	return len(removed), nil
}

func (r *Repository) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(r.pipelineID) == nil {
			return nil
		}
		return tx.DeleteBucket(r.pipelineID)
	})
}

func (r *Repository) update(ctx context.Context, fn func(root *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(r.pipelineID)
		if root == nil {
			return fmt.Errorf("pipeline %q is not initialized", r.pipelineID)
		}
		return fn(root)
	})
}

func (r *Repository) view(fn func(root *bolt.Bucket) error) error {
	return r.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(r.pipelineID)
		if root == nil {
			return fmt.Errorf("pipeline %q is not initialized", r.pipelineID)
		}
		return fn(root)
	})
}

func lastSettled(root *bolt.Bucket) (uint64, bool) {
	v := root.Bucket(metaBucket).Get(lastSettledKey)
	if v == nil {
		return 0, false
	}
	return decodeBlockKey(v), true
}
