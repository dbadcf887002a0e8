// Package mock replaces proof stages with fixed facts for development networks.
package mock

import (
	"errors"
	"fmt"

	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/hexutil"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

const productionEnv = "production"

var (
	// ErrMockInProduction is returned when mock facts are configured for a production environment.
	ErrMockInProduction = errors.New("mock proofs are not allowed in production")
	// ErrMockNotEnabled is returned when facts are configured without explicitly enabling mocks.
	ErrMockNotEnabled = errors.New("mock facts configured without --mock-enable")
)

// Controller holds an optional fact per stage. A stage with a fact never reaches the prover.
type Controller struct {
	enabled bool
	facts   map[types.StageKind]common.Hash
}

// NewController returns a controller. enabled must be set for any fact to be honoured.
func NewController(enabled bool) *Controller {
	return &Controller{enabled: enabled, facts: make(map[types.StageKind]common.Hash)}
}

// SetFact configures the fact injected for kind.
func (c *Controller) SetFact(kind types.StageKind, fact common.Hash) {
	c.facts[kind] = fact
}

// SetFactHex parses and configures a hex fact. An empty string leaves the stage unmocked.
func (c *Controller) SetFactHex(kind types.StageKind, hex string) error {
	if hex == "" {
		return nil
	}
	b, err := hexutil.Decode(hex)
	if err != nil || len(b) == 0 || len(b) > common.HashLength {
		return fmt.Errorf("invalid %s mock fact %q", kind, hex)
	}
	c.SetFact(kind, common.BytesToHash(b))
	return nil
}

// Fact returns the fact for kind when mocking is enabled.
func (c *Controller) Fact(kind types.StageKind) (common.Hash, bool) {
	if c == nil || !c.enabled {
		return common.Hash{}, false
	}
	f, ok := c.facts[kind]
	return f, ok
}

// Active reports whether any stage is mocked.
func (c *Controller) Active() bool {
	return c != nil && c.enabled && len(c.facts) > 0
}

// Validate refuses configurations that must not start: facts without the enable flag, or any
// mock in a production environment.
func (c *Controller) Validate(env string) error {
	if c == nil || len(c.facts) == 0 {
		return nil
	}
	if !c.enabled {
		return ErrMockNotEnabled
	}
	if env == productionEnv {
		return ErrMockInProduction
	}
	return nil
}
