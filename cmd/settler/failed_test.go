package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/data/bolt/cursor"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// seedFailed creates a cursor store with the given failed blocks and closes it again.
func seedFailed(t *testing.T, pipelineID string, blocks ...types.FailedBlock) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settler.db")
	store, err := cursor.Open(path, pipelineID, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, store.Initialize(t.Context()))
	for _, fb := range blocks {
		require.NoError(t, store.MarkFailed(t.Context(), fb))
	}
	require.NoError(t, store.Close())
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.RunContext(t.Context(), append([]string{"settler"}, args...))
	return out.String(), err
}

func failedBlock(n uint64, stage string) types.FailedBlock {
	return types.FailedBlock{
		BlockNumber: n,
		Stage:       stage,
		Reason:      "proof rejected",
		Attempts:    3,
		FailedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFailedList(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p", failedBlock(5, "snos"), failedBlock(9, "settle"))

	out, err := runApp(t, "failed", "list", "--db-path", path, "--pipeline-id", "p")
	require.NoError(t, err)
	assert.Contains(t, out, "BLOCK")
	assert.Contains(t, out, "5  ")
	assert.Contains(t, out, "settle")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "proof rejected")
}

func TestFailedList_Empty(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p")

	out, err := runApp(t, "failed", "list", "--db-path", path, "--pipeline-id", "p")
	require.NoError(t, err)
	assert.Equal(t, "no failed blocks\n", out)
}

func TestFailedAck_Block(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p", failedBlock(5, "snos"), failedBlock(9, "settle"))

	out, err := runApp(t, "failed", "ack", "--db-path", path, "--pipeline-id", "p", "--block", "5")
	require.NoError(t, err)
	assert.Equal(t, "acknowledged block 5\n", out)

	store, err := cursor.Open(path, "p", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer store.Close()

	open, err := store.FailedBlocks(t.Context(), false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, uint64(9), open[0].BlockNumber)

	all, err := store.FailedBlocks(t.Context(), true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Handled)
}

func TestFailedAck_All(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p", failedBlock(5, "snos"), failedBlock(9, "settle"))

	out, err := runApp(t, "failed", "ack", "--db-path", path, "--pipeline-id", "p", "--all")
	require.NoError(t, err)
	assert.Equal(t, "acknowledged block 5\nacknowledged block 9\n", out)

	out, err = runApp(t, "failed", "list", "--db-path", path, "--pipeline-id", "p")
	require.NoError(t, err)
	assert.Equal(t, "no failed blocks\n", out)
}

func TestFailedAck_Errors(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p", failedBlock(5, "snos"))

	_, err := runApp(t, "failed", "ack", "--db-path", path, "--pipeline-id", "p")
	require.ErrorContains(t, err, "exactly one of --block or --all is required")

	_, err = runApp(t, "failed", "ack", "--db-path", path, "--pipeline-id", "p", "--block", "5", "--all")
	require.ErrorContains(t, err, "exactly one of --block or --all is required")

	_, err = runApp(t, "failed", "ack", "--db-path", path, "--pipeline-id", "p", "--block", "6")
	require.ErrorContains(t, err, "block 6 is not in the failed list")
}

func TestRemove(t *testing.T) {
	t.Parallel()
	path := seedFailed(t, "p", failedBlock(5, "snos"))
	// A second pipeline in the same file is left alone.
	other, err := cursor.Open(path, "q", zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, other.Initialize(t.Context()))
	require.NoError(t, other.Close())

	_, err = runApp(t, "remove", "--db-path", path, "--pipeline-id", "p")
	require.NoError(t, err)

	_, err = runApp(t, "failed", "list", "--db-path", path, "--pipeline-id", "p")
	require.ErrorContains(t, err, `pipeline "p" is not initialized`)

	out, err := runApp(t, "failed", "list", "--db-path", path, "--pipeline-id", "q")
	require.NoError(t, err)
	assert.Equal(t, "no failed blocks\n", out)

	// Removing twice is not an error.
	_, err = runApp(t, "remove", "--db-path", path, "--pipeline-id", "p")
	require.NoError(t, err)
}
