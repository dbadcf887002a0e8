package da

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ava-labs/libevm/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/settlement"
)

type call struct {
	method string
	args   []interface{}
}

// fakeNode answers by method name and round-trips the reply through JSON like the rpc client.
type fakeNode struct {
	replies map[string]interface{}
	errs    map[string]error
	calls   []call
}

func (f *fakeNode) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.calls = append(f.calls, call{method: method, args: args})
	if err := f.errs[method]; err != nil {
		return err
	}
	raw, err := json.Marshal(f.replies[method])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }

func commitment(b byte) []byte {
	c := make([]byte, 32)
	c[31] = b
	return c
}

func TestNamespaceV0(t *testing.T) {
	t.Parallel()

	ns, err := NamespaceV0([]byte("saya"))
	require.NoError(t, err)
	assert.Equal(t, byte(0), ns[0])
	assert.Equal(t, make([]byte, 25), ns[:25])
	assert.Equal(t, []byte("saya"), ns[25:])

	_, err = NamespaceV0(nil)
	require.Error(t, err)
	_, err = NamespaceV0([]byte("eleven-byte"))
	require.Error(t, err)
}

func TestCelestia_Submit(t *testing.T) {
	t.Parallel()
	data := []byte("packet")
	node := &fakeNode{replies: map[string]interface{}{
		"blob.Submit": uint64(812),
		"blob.GetAll": []blob{
			{Data: []byte("other"), Commitment: commitment(1)},
			{Data: data, Commitment: commitment(2)},
		},
	}}
	c, err := NewCelestia(node, "settler", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)

	ptr, err := c.Submit(t.Context(), "saya", data)
	require.NoError(t, err)
	assert.Equal(t, uint64(812), ptr.Height)
	assert.Equal(t, byte(2), ptr.Commitment[31])

	require.Len(t, node.calls, 2)
	submitted := node.calls[0].args[0].([]blob)
	require.Len(t, submitted, 1)
	assert.Equal(t, data, submitted[0].Data)
	assert.Equal(t, uint8(0), submitted[0].ShareVersion)
	assert.Equal(t, txConfig{KeyName: "settler"}, node.calls[0].args[1])
	assert.Equal(t, uint64(812), node.calls[1].args[0])
}

func TestCelestia_BlobNotFoundIsRetryable(t *testing.T) {
	t.Parallel()
	node := &fakeNode{replies: map[string]interface{}{
		"blob.Submit": uint64(5),
		"blob.GetAll": []blob{},
	}}
	c, err := NewCelestia(node, "", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)

	_, err = c.Submit(t.Context(), "saya", []byte("x"))
	require.ErrorIs(t, err, settlement.ErrRetryable)
}

func TestCelestia_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "network", err: errors.New("dial tcp: connection refused"), retryable: true},
		{name: "unauthorized", err: rpc.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, retryable: false},
		{name: "gateway", err: rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, retryable: true},
		{name: "invalid namespace", err: nodeError{code: 1, msg: "invalid namespace version"}, retryable: false},
		{name: "oversized blob", err: nodeError{code: 1, msg: "blob size exceeds limit"}, retryable: false},
		{name: "other node error", err: nodeError{code: 1, msg: "tx not in mempool"}, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			node := &fakeNode{errs: map[string]error{"blob.Submit": tt.err}}
			c, err := NewCelestia(node, "", zap.NewNop().Sugar(), nil)
			require.NoError(t, err)

			_, err = c.Submit(t.Context(), "saya", []byte("x"))
			require.ErrorContains(t, err, tt.err.Error())
			assert.Equal(t, tt.retryable, settlement.IsRetryable(err))
			assert.Equal(t, !tt.retryable, errors.Is(err, settlement.ErrFatal))
		})
	}
}

func TestCelestia_InvalidNamespaceIsFatal(t *testing.T) {
	t.Parallel()
	node := &fakeNode{}
	c, err := NewCelestia(node, "", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)

	_, err = c.Submit(t.Context(), "far-too-long-namespace", []byte("x"))
	require.ErrorIs(t, err, settlement.ErrFatal)
	assert.Empty(t, node.calls)
}
