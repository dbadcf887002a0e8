// Package da publishes settlement packets to a data-availability network.
package da

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ava-labs/libevm/rpc"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

const (
	namespaceVersionZero = 0
	namespaceIDSize      = 28
	namespaceV0UserSize  = 10
	namespaceSize        = 1 + namespaceIDSize
)

// Namespace is a Celestia share namespace (version byte followed by a 28-byte id).
type Namespace [namespaceSize]byte

// NamespaceV0 builds a version 0 namespace: the id is 18 zero bytes followed by the user bytes,
// left-padded to ten bytes.
func NamespaceV0(user []byte) (Namespace, error) {
	var ns Namespace
	if len(user) == 0 || len(user) > namespaceV0UserSize {
		return ns, fmt.Errorf("namespace must be 1 to %d bytes, got %d", namespaceV0UserSize, len(user))
	}
	ns[0] = namespaceVersionZero
	copy(ns[namespaceSize-len(user):], user)
	return ns, nil
}

// Publisher stores a blob under namespace and returns where it landed.
type Publisher interface {
	Submit(ctx context.Context, namespace string, data []byte) (types.DAPointer, error)
}

// Caller is the subset of *rpc.Client used by the Celestia publisher.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// blob is the JSON shape of a Celestia blob. []byte fields are base64 encoded by encoding/json,
// as the node expects.
type blob struct {
	Namespace    []byte `json:"namespace"`
	Data         []byte `json:"data"`
	ShareVersion uint8  `json:"share_version"`
	Commitment   []byte `json:"commitment,omitempty"`
	Index        int    `json:"index"`
}

type txConfig struct {
	KeyName string `json:"key_name,omitempty"`
}

// Celestia publishes blobs through a Celestia node's JSON-RPC API.
type Celestia struct {
	client  Caller
	keyName string
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// DialCelestia connects to a node at url authenticating with token.
func DialCelestia(ctx context.Context, url, token string) (*rpc.Client, error) {
	opts := []rpc.ClientOption{}
	if token != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+token))
	}
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial celestia node %s: %w", url, err)
	}
	return c, nil
}

// NewCelestia returns a publisher signing blob transactions with the node key keyName (the
// node's default key when empty).
func NewCelestia(client Caller, keyName string, log *zap.SugaredLogger, m *metrics.Metrics) (*Celestia, error) {
	if client == nil {
		return nil, errors.New("invalid celestia client: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	return &Celestia{client: client, keyName: keyName, log: log, metrics: m}, nil
}

// Submit posts data and returns its inclusion height and commitment. The commitment is read back
// from the node by matching the submitted data at the inclusion height.
func (c *Celestia) Submit(ctx context.Context, namespace string, data []byte) (types.DAPointer, error) {
	ns, err := NamespaceV0([]byte(namespace))
	if err != nil {
		return types.DAPointer{}, settlement.Fatal(fmt.Errorf("invalid celestia namespace %q: %w", namespace, err))
	}

	var height uint64
	b := blob{Namespace: ns[:], Data: data, Index: -1}
	start := time.Now()
	err = c.client.CallContext(ctx, &height, "blob.Submit", []blob{b}, txConfig{KeyName: c.keyName})
	c.metrics.RecordRPCCall("blob.Submit", err, time.Since(start).Seconds())
	if err != nil {
		return types.DAPointer{}, classify(err)
	}

	var included []blob
	start = time.Now()
	err = c.client.CallContext(ctx, &included, "blob.GetAll", height, [][]byte{ns[:]})
	c.metrics.RecordRPCCall("blob.GetAll", err, time.Since(start).Seconds())
	if err != nil {
		return types.DAPointer{}, classify(err)
	}
	for _, got := range included {
		if !bytes.Equal(got.Data, data) {
			continue
		}
		if len(got.Commitment) != 32 {
			return types.DAPointer{}, settlement.Fatal(fmt.Errorf("blob commitment at height %d has %d bytes", height, len(got.Commitment)))
		}
		ptr := types.DAPointer{Height: height}
		copy(ptr.Commitment[:], got.Commitment)
		c.log.Infow("blob posted",
			"height", height,
			"namespace", namespace,
			"bytes", len(data),
		)
		return ptr, nil
	}
	return types.DAPointer{}, settlement.Retryable(fmt.Errorf("submitted blob not found at height %d", height))
}

// classify marks node-side validation failures fatal and everything else retryable.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return settlement.Fatal(err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Error())
		if strings.Contains(msg, "namespace") || strings.Contains(msg, "blob size") || strings.Contains(msg, "invalid blob") {
			return settlement.Fatal(err)
		}
	}
	return settlement.Retryable(err)
}

var _ Publisher = (*Celestia)(nil)
