package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Finalize(ctx context.Context, job types.BlockJob) (types.SettlementRecord, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(types.SettlementRecord), args.Error(1)
}

func (m *mockBackend) LastSettled(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *mockBackend) Mode() types.Mode { return types.ModePersistent }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestFinalizeWithRetry_RetriesIdenticalPayload(t *testing.T) {
	t.Parallel()
	job := types.BlockJob{Number: 20, Snos: types.NewProofResult(types.StageSnos, "q", []byte("p"))}
	b := &mockBackend{}
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{}, Retryable(errors.New("nonce too low"))).Times(3)
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{BlockNumber: 20}, nil).Once()

	core, recorded := observer.New(zap.WarnLevel)
	rec, err := FinalizeWithRetry(t.Context(), b, job, fastPolicy(4), zap.New(core).Sugar(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), rec.BlockNumber)
	assert.Equal(t, 3, recorded.FilterMessage("retryable settlement failure").Len())
	b.AssertExpectations(t)
}

func TestFinalizeWithRetry_DefaultPolicySurvivesThreeFailures(t *testing.T) {
	t.Parallel()
	job := types.BlockJob{Number: 7}
	b := &mockBackend{}
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{}, Retryable(errors.New("replacement transaction underpriced"))).Times(3)
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{BlockNumber: 7}, nil).Once()

	policy := DefaultRetryPolicy()
	policy.Backoff = time.Millisecond
	policy.MaxBackoff = time.Millisecond

	rec, err := FinalizeWithRetry(t.Context(), b, job, policy, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.BlockNumber)
	b.AssertNumberOfCalls(t, "Finalize", 4)
}

func TestFinalizeWithRetry_Exhausted(t *testing.T) {
	t.Parallel()
	job := types.BlockJob{Number: 21}
	b := &mockBackend{}
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{}, Retryable(errors.New("connection reset"))).Times(3)

	_, err := FinalizeWithRetry(t.Context(), b, job, fastPolicy(3), zap.NewNop().Sugar(), nil)
	require.ErrorIs(t, err, ErrRetryable)
	assert.Contains(t, err.Error(), "after 3 attempts")
	b.AssertExpectations(t)
}

func TestFinalizeWithRetry_FatalStopsImmediately(t *testing.T) {
	t.Parallel()
	job := types.BlockJob{Number: 22}
	b := &mockBackend{}
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{}, Mismatch(22, 30)).Once()

	_, err := FinalizeWithRetry(t.Context(), b, job, fastPolicy(5), zap.NewNop().Sugar(), nil)
	require.ErrorIs(t, err, ErrFatal)
	require.ErrorIs(t, err, ErrAlreadySettledMismatch)
	b.AssertExpectations(t)
}

func TestFinalizeWithRetry_UnclassifiedIsNotRetried(t *testing.T) {
	t.Parallel()
	job := types.BlockJob{Number: 23}
	boom := errors.New("boom")
	b := &mockBackend{}
	b.On("Finalize", mock.Anything, job).Return(types.SettlementRecord{}, boom).Once()

	_, err := FinalizeWithRetry(t.Context(), b, job, fastPolicy(5), zap.NewNop().Sugar(), nil)
	require.ErrorIs(t, err, boom)
	b.AssertExpectations(t)
}

func TestClassification(t *testing.T) {
	t.Parallel()
	base := errors.New("base")

	r := Retryable(base)
	assert.True(t, IsRetryable(r))
	assert.ErrorIs(t, r, base)
	assert.NotErrorIs(t, r, ErrFatal)
	assert.Equal(t, "base", r.Error())

	f := Fatal(base)
	assert.False(t, IsRetryable(f))
	assert.ErrorIs(t, f, ErrFatal)

	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Fatal(nil))
}
