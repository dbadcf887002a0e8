package atlantic

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/prover"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

func newTestClient(t *testing.T, api, proofs *httptest.Server) *Client {
	t.Helper()
	cfg := Config{BaseURL: api.URL, APIKey: "secret"}
	if proofs != nil {
		cfg.ProofBaseURL = proofs.URL
	}
	c, err := New(cfg, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, zap.NewNop().Sugar(), nil)
	require.ErrorContains(t, err, "invalid api key")
	_, err = New(Config{APIKey: "k"}, nil, nil)
	require.ErrorContains(t, err, "invalid logger")
}

func TestSubmit_Snos(t *testing.T) {
	t.Parallel()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/atlantic-query", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "dynamic", r.FormValue("layout"))
		assert.Equal(t, "starkware_sharp", r.FormValue("prover"))
		assert.Equal(t, "PROOF_GENERATION", r.FormValue("result"))
		assert.Equal(t, "block-12-snos", r.FormValue("externalId"))

		f, hdr, err := r.FormFile("pieFile")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "pie.zip", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, []byte("zipped-pie"), body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"atlanticQueryId":"q-1"}`))
	}))
	defer api.Close()

	c := newTestClient(t, api, nil)
	job, err := c.Submit(t.Context(), prover.Input{
		Kind:       types.StageSnos,
		Block:      12,
		ExternalID: "block-12-snos",
		Pie:        []byte("zipped-pie"),
	})
	require.NoError(t, err)
	assert.Equal(t, "q-1", job.ID)
	assert.Equal(t, types.StageSnos, job.Kind)
}

func TestSubmit_LayoutBridge(t *testing.T) {
	t.Parallel()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/l2/atlantic-query", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "0", r.FormValue("cairoVersion"))
		assert.Equal(t, "false", r.FormValue("mockFactHash"))

		_, hdr, err := r.FormFile("programFile")
		require.NoError(t, err)
		assert.Equal(t, "program.json", hdr.Filename)
		_, hdr, err = r.FormFile("inputFile")
		require.NoError(t, err)
		assert.Equal(t, "input.json", hdr.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"atlanticQueryId":"q-2"}`))
	}))
	defer api.Close()

	c := newTestClient(t, api, nil)
	job, err := c.Submit(t.Context(), prover.Input{
		Kind:         types.StageLayoutBridge,
		Program:      []byte(`{"program":1}`),
		ProgramInput: []byte(`{"proof":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "q-2", job.ID)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		status     int
		wantReject bool
	}{
		{name: "bad request is a rejection", status: http.StatusBadRequest, wantReject: true},
		{name: "unauthorized is a rejection", status: http.StatusUnauthorized, wantReject: true},
		{name: "too many requests is transport", status: http.StatusTooManyRequests},
		{name: "server error is transport", status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer api.Close()

			c := newTestClient(t, api, nil)
			_, err := c.Submit(t.Context(), prover.Input{Kind: types.StageSnos, Pie: []byte("x")})
			require.Error(t, err)
			if tt.wantReject {
				require.ErrorIs(t, err, prover.ErrRejected)
			} else {
				require.True(t, prover.IsTransport(err))
			}
		})
	}
}

func TestPoll_Statuses(t *testing.T) {
	t.Parallel()
	proofs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sharp_queries/query_q-done/proof.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"proof":"0xabc"}`))
	}))
	defer proofs.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/atlantic-query/q-running":
			_, _ = w.Write([]byte(`{"atlanticQuery":{"id":"q-running","status":"IN_PROGRESS"}}`))
		case "/atlantic-query/q-received":
			_, _ = w.Write([]byte(`{"atlanticQuery":{"id":"q-received","status":"RECEIVED"}}`))
		case "/atlantic-query/q-failed":
			_, _ = w.Write([]byte(`{"atlanticQuery":{"id":"q-failed","status":"FAILED","errorReason":"trace too large"}}`))
		case "/atlantic-query/q-done":
			_, _ = w.Write([]byte(`{"atlanticQuery":{"id":"q-done","status":"DONE"}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer api.Close()

	c := newTestClient(t, api, proofs)

	out, err := c.Poll(t.Context(), &types.ProofJob{ID: "q-running"})
	require.NoError(t, err)
	assert.Equal(t, prover.Running, out.Status)

	out, err = c.Poll(t.Context(), &types.ProofJob{ID: "q-received"})
	require.NoError(t, err)
	assert.Equal(t, prover.Running, out.Status)

	out, err = c.Poll(t.Context(), &types.ProofJob{ID: "q-failed"})
	require.NoError(t, err)
	assert.Equal(t, prover.Failed, out.Status)
	assert.Equal(t, "trace too large", out.Reason)

	out, err = c.Poll(t.Context(), &types.ProofJob{ID: "q-done"})
	require.NoError(t, err)
	assert.Equal(t, prover.Succeeded, out.Status)
	assert.JSONEq(t, `{"proof":"0xabc"}`, string(out.Proof))

	_, err = c.Poll(t.Context(), &types.ProofJob{ID: "q-unknown"})
	require.True(t, prover.IsTransport(err))
}
