package cursor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

func newTestRepo(t *testing.T, path string) *Repository {
	t.Helper()
	repo, err := Open(path, "pipeline-1", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Initialize(t.Context()))
	return repo
}

func record(n uint64) types.SettlementRecord {
	return types.SettlementRecord{BlockNumber: n, Mode: types.ModePersistent, SettledAt: time.Unix(1700000000, 0).UTC()}
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()
	log := zap.NewNop().Sugar()
	_, err := Open("", "p", log)
	require.ErrorContains(t, err, "invalid db path")
	_, err = Open(filepath.Join(t.TempDir(), "c.db"), "", log)
	require.ErrorContains(t, err, "invalid pipeline id")
	_, err = Open(filepath.Join(t.TempDir(), "c.db"), "p", nil)
	require.ErrorContains(t, err, "invalid logger")
}

func TestRepository_InitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))
	require.NoError(t, repo.Initialize(t.Context()))

	rec, err := repo.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "pipeline-1", rec.PipelineID)
	assert.False(t, rec.HasSettled)
	assert.Empty(t, rec.InProgress)
}

func TestRepository_MarkSettled_Ordering(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))

	// First settlement may start anywhere.
	require.NoError(t, repo.MarkSettled(ctx, 10, record(10)))
	require.NoError(t, repo.MarkSettled(ctx, 11, record(11)))

	err := repo.MarkSettled(ctx, 13, record(13))
	require.ErrorIs(t, err, checkpointer.ErrCursorCorruption)

	n, exists, err := repo.HighestSettled(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(11), n)

	_, found, err := repo.SettlementRecord(ctx, 13)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepository_MarkSettled_AtMostOnce(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))

	first := record(5)
	hash := common.HexToHash("0x01")
	first.TxHash = &hash
	require.NoError(t, repo.MarkSettled(ctx, 5, first))

	second := record(5)
	other := common.HexToHash("0x02")
	second.TxHash = &other
	require.NoError(t, repo.MarkSettled(ctx, 5, second))
	require.NoError(t, repo.MarkSettled(ctx, 5, second))

	got, found, err := repo.SettlementRecord(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hash, *got.TxHash)
}

func TestRepository_MarkSettled_RecordMismatch(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))
	err := repo.MarkSettled(t.Context(), 3, record(4))
	require.Error(t, err)
}

func TestRepository_Resume(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "cursor.db")

	repo, err := Open(path, "pipeline-1", zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(ctx))
	for n := uint64(0); n <= 4; n++ {
		require.NoError(t, repo.MarkFetched(ctx, n))
		require.NoError(t, repo.MarkSettled(ctx, n, record(n)))
	}
	require.NoError(t, repo.MarkFetched(ctx, 6))
	require.NoError(t, repo.MarkStageDone(ctx, 5, types.StageSnos, types.NewProofResult(types.StageSnos, "q5", []byte("proof"))))
	require.NoError(t, repo.Close())

	reopened := newTestRepo(t, path)
	rec, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.HasSettled)
	assert.Equal(t, uint64(4), rec.LastSettled)
	assert.Equal(t, uint64(5), rec.Next(0))
	assert.Equal(t, []uint64{5, 6}, rec.InProgress)

	res, found, err := reopened.StageResult(ctx, 5, types.StageSnos)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "q5", res.QueryID)
	assert.Equal(t, []byte("proof"), res.Proof)

	_, found, err = reopened.StageResult(ctx, 5, types.StageLayoutBridge)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepository_LastDAPointer(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))

	ptr, err := repo.LastDAPointer(ctx)
	require.NoError(t, err)
	assert.Nil(t, ptr)

	withDA := record(1)
	withDA.DA = &types.DAPointer{Height: 42, Commitment: [32]byte{0xaa}}
	require.NoError(t, repo.MarkSettled(ctx, 1, withDA))
	require.NoError(t, repo.MarkSettled(ctx, 2, record(2)))

	ptr, err = repo.LastDAPointer(ctx)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.Equal(t, uint64(42), ptr.Height)
}

func TestRepository_FailedBlocks(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))

	require.NoError(t, repo.MarkFailed(ctx, types.FailedBlock{BlockNumber: 9, Stage: "snos", Reason: "rejected", Attempts: 1}))
	require.NoError(t, repo.MarkFailed(ctx, types.FailedBlock{BlockNumber: 3, Stage: "settlement", Reason: "revert", Attempts: 3}))

	list, err := repo.FailedBlocks(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].BlockNumber)

	require.NoError(t, repo.MarkFailedHandled(ctx, 3))
	require.Error(t, repo.MarkFailedHandled(ctx, 100))

	list, err = repo.FailedBlocks(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(9), list[0].BlockNumber)

	list, err = repo.FailedBlocks(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Handled)
}

func TestRepository_Prune(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))

	for n := uint64(0); n < 5; n++ {
		require.NoError(t, repo.MarkStageDone(ctx, n, types.StageSnos, types.NewProofResult(types.StageSnos, "q", []byte{byte(n)})))
		require.NoError(t, repo.MarkSettled(ctx, n, record(n)))
	}

	removed, err := repo.Prune(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, found, err := repo.StageResult(ctx, 2, types.StageSnos)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = repo.StageResult(ctx, 3, types.StageSnos)
	require.NoError(t, err)
	assert.True(t, found)

	// Settlement records survive pruning.
	_, found, err = repo.SettlementRecord(ctx, 0)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRepository_Delete(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "cursor.db"))
	require.NoError(t, repo.MarkSettled(ctx, 1, record(1)))

	require.NoError(t, repo.Delete(ctx))
	require.NoError(t, repo.Delete(ctx))

	_, err := repo.Load(ctx)
	require.Error(t, err)

	require.NoError(t, repo.Initialize(ctx))
	rec, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, rec.HasSettled)
}
