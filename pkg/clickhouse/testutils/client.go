package testutils

import (
	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
)

// NewTestClient wraps a mock connection so repositories can be tested without a server.
func NewTestClient(conn *MockConn) clickhouse.Client {
	return clickhouse.NewWithConn(conn)
}
