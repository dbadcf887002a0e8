package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

func startServer(t *testing.T, addr string, reg *prometheus.Registry, ready ReadinessFunc) {
	t.Helper()
	server := NewServer(addr, reg, ready)
	errCh := server.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		<-errCh
	})
	// Give server time to start
	time.Sleep(50 * time.Millisecond)
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := httpGet(t.Context(), url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServer(t *testing.T) {
	server := NewServer(":0", prometheus.NewRegistry(), nil)
	require.NotNil(t, server)
	require.Equal(t, ":0", server.httpServer.Addr)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.UpdateWindowMetrics(100, 200, 2, 1)
	m.IncError(ErrTypeSettlement)

	startServer(t, "127.0.0.1:19091", reg, nil)

	status, body := getBody(t, "http://127.0.0.1:19091/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "settler_lowest")
	require.Contains(t, body, "settler_highest")
	require.Contains(t, body, "settler_errors_total")
}

func TestServer_HealthEndpoint(t *testing.T) {
	startServer(t, "127.0.0.1:19092", prometheus.NewRegistry(), nil)

	status, body := getBody(t, "http://127.0.0.1:19092/health")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)

	status, body = getBody(t, "http://127.0.0.1:19092/ready")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body)
}

func TestServer_ReadyEndpointReportsFailure(t *testing.T) {
	ready := func(context.Context) error { return errors.New("cursor store closed") }
	startServer(t, "127.0.0.1:19093", prometheus.NewRegistry(), ready)

	status, body := getBody(t, "http://127.0.0.1:19093/ready")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Contains(t, body, "cursor store closed")
}
