package blocksource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchHead(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockSource) FetchBlock(ctx context.Context, n uint64) (*types.RawBlock, error) {
	args := m.Called(ctx, n)
	b, _ := args.Get(0).(*types.RawBlock)
	return b, args.Error(1)
}

func TestCached_FetchesOnce(t *testing.T) {
	t.Parallel()
	src := &mockSource{}
	src.On("FetchBlock", mock.Anything, uint64(3)).Return(&types.RawBlock{Number: 3}, nil).Once()
	src.On("FetchHead", mock.Anything).Return(uint64(10), nil).Twice()

	cached, err := NewCached(src, 8)
	require.NoError(t, err)

	for range 3 {
		b, err := cached.FetchBlock(t.Context(), 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), b.Number)
	}

	// Head is never cached.
	for range 2 {
		head, err := cached.FetchHead(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(10), head)
	}
	src.AssertExpectations(t)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	src := &mockSource{}
	src.On("FetchBlock", mock.Anything, uint64(5)).Return(nil, ErrNotYetProduced).Once()
	src.On("FetchBlock", mock.Anything, uint64(5)).Return(&types.RawBlock{Number: 5}, nil).Once()

	cached, err := NewCached(src, 8)
	require.NoError(t, err)

	_, err = cached.FetchBlock(t.Context(), 5)
	require.ErrorIs(t, err, ErrNotYetProduced)
	b, err := cached.FetchBlock(t.Context(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Number)

	cached.Forget(5)
	src.On("FetchBlock", mock.Anything, uint64(5)).Return(&types.RawBlock{Number: 5}, nil).Once()
	_, err = cached.FetchBlock(t.Context(), 5)
	require.NoError(t, err)
	src.AssertExpectations(t)
}

func TestNewCached_InvalidSize(t *testing.T) {
	t.Parallel()
	_, err := NewCached(&mockSource{}, 0)
	require.Error(t, err)
}
