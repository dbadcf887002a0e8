//go:build e2e

package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// celestiaBlob mirrors the node's blob JSON; []byte fields travel base64 encoded.
type celestiaBlob struct {
	Namespace    []byte `json:"namespace"`
	Data         []byte `json:"data"`
	ShareVersion uint8  `json:"share_version"`
	Commitment   []byte `json:"commitment,omitempty"`
	Index        int    `json:"index"`
}

// fakeNode serves the starknet block methods of a sovereign chain and the blob methods of a
// Celestia node over one JSON-RPC endpoint.
type fakeNode struct {
	head uint64

	mu       sync.Mutex
	daHeight uint64
	blobs    map[uint64][]celestiaBlob
}

func newFakeNode(head uint64) *fakeNode {
	return &fakeNode{head: head, daHeight: 1000, blobs: make(map[uint64][]celestiaBlob)}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, rerr := f.handle(req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rerr}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeNode) handle(req rpcRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "starknet_blockNumber":
		return f.head, nil
	case "starknet_getBlockWithTxHashes":
		var id struct {
			BlockNumber uint64 `json:"block_number"`
		}
		if len(req.Params) != 1 || json.Unmarshal(req.Params[0], &id) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		if id.BlockNumber > f.head {
			return nil, &rpcError{Code: 24, Message: "Block not found"}
		}
		return fakeBlock(id.BlockNumber), nil
	case "blob.Submit":
		var submitted []celestiaBlob
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &submitted) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		return f.submit(submitted), nil
	case "blob.GetAll":
		var height uint64
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &height) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.blobs[height], nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
}

func (f *fakeNode) submit(submitted []celestiaBlob) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daHeight++
	for i, b := range submitted {
		sum := sha256.Sum256(b.Data)
		b.Commitment = sum[:]
		b.Index = i
		f.blobs[f.daHeight] = append(f.blobs[f.daHeight], b)
	}
	return f.daHeight
}

// published returns every blob payload in inclusion order.
func (f *fakeNode) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for h := uint64(1001); h <= f.daHeight; h++ {
		for _, b := range f.blobs[h] {
			out = append(out, b.Data)
		}
	}
	return out
}

func fakeBlock(n uint64) map[string]interface{} {
	return map[string]interface{}{
		"block_hash":   fmt.Sprintf("0x%064x", n+0xb000),
		"parent_hash":  fmt.Sprintf("0x%064x", n+0xb000-1),
		"block_number": n,
		"timestamp":    1700000000 + n,
		"transactions": []string{fmt.Sprintf("0x%x", n)},
	}
}

// waitFor polls cond every 200ms until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			require.FailNow(t, "timed out waiting: "+msg)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func getEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		var out uint64
		_, _ = fmt.Sscanf(v, "%d", &out)
		if out != 0 {
			return out
		}
	}
	return def
}

func queryCount(t *testing.T, ctx context.Context, ch clickhouse.Client, query string, args ...interface{}) uint64 {
	t.Helper()
	var cnt uint64
	require.NoError(t, ch.Conn().QueryRow(ctx, query, args...).Scan(&cnt))
	return cnt
}
