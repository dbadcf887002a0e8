package mock

import (
	"testing"

	"github.com/ava-labs/libevm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

func TestController_Fact(t *testing.T) {
	t.Parallel()
	c := NewController(true)
	fact := common.HexToHash("0xfeed")
	c.SetFact(types.StageSnos, fact)

	got, ok := c.Fact(types.StageSnos)
	require.True(t, ok)
	assert.Equal(t, fact, got)

	_, ok = c.Fact(types.StageLayoutBridge)
	assert.False(t, ok)
	assert.True(t, c.Active())
}

func TestController_DisabledIgnoresFacts(t *testing.T) {
	t.Parallel()
	c := NewController(false)
	c.SetFact(types.StageSnos, common.HexToHash("0x01"))

	_, ok := c.Fact(types.StageSnos)
	assert.False(t, ok)
	assert.False(t, c.Active())

	var nilController *Controller
	_, ok = nilController.Fact(types.StageSnos)
	assert.False(t, ok)
}

func TestController_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		enabled bool
		fact    bool
		env     string
		wantErr error
	}{
		{name: "no facts in production", enabled: false, fact: false, env: "production"},
		{name: "enabled without facts in production", enabled: true, fact: false, env: "production"},
		{name: "facts in development", enabled: true, fact: true, env: "development"},
		{name: "facts in production", enabled: true, fact: true, env: "production", wantErr: ErrMockInProduction},
		{name: "facts without enable flag", enabled: false, fact: true, env: "development", wantErr: ErrMockNotEnabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewController(tt.enabled)
			if tt.fact {
				c.SetFact(types.StageLayoutBridge, common.HexToHash("0x02"))
			}
			err := c.Validate(tt.env)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestController_SetFactHex(t *testing.T) {
	t.Parallel()
	c := NewController(true)
	require.NoError(t, c.SetFactHex(types.StageSnos, ""))
	_, ok := c.Fact(types.StageSnos)
	assert.False(t, ok)

	require.NoError(t, c.SetFactHex(types.StageSnos, "0x1234"))
	got, ok := c.Fact(types.StageSnos)
	require.True(t, ok)
	assert.Equal(t, common.HexToHash("0x1234"), got)

	require.Error(t, c.SetFactHex(types.StageLayoutBridge, "0xzz"))
	require.Error(t, c.SetFactHex(types.StageLayoutBridge, "1234"))
}
