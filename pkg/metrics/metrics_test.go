package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLabels_toPrometheusLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   Labels
		expected prometheus.Labels
	}{
		{
			name:     "empty labels",
			labels:   Labels{},
			expected: prometheus.Labels{},
		},
		{
			name: "all labels set",
			labels: Labels{
				PipelineID:    "katana-mainnet",
				Mode:          "persistent",
				Environment:   "production",
				Region:        "us-east-1",
				CloudProvider: "aws",
			},
			expected: prometheus.Labels{
				"pipeline_id":    "katana-mainnet",
				"mode":           "persistent",
				"environment":    "production",
				"region":         "us-east-1",
				"cloud_provider": "aws",
			},
		},
		{
			name: "partial labels",
			labels: Labels{
				PipelineID:  "p1",
				Environment: "staging",
			},
			expected: prometheus.Labels{
				"pipeline_id": "p1",
				"environment": "staging",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.labels.toPrometheusLabels()
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestNewWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewWithLabels(reg, Labels{PipelineID: "p1", Mode: "sovereign"})
	require.NoError(t, err)

	m.UpdateWindowMetrics(100, 200, 4, 2)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "settler_lowest" {
			continue
		}
		found = true
		labelMap := make(map[string]string)
		for _, label := range mf.GetMetric()[0].GetLabel() {
			labelMap[label.GetName()] = label.GetValue()
		}
		require.Equal(t, "p1", labelMap["pipeline_id"])
		require.Equal(t, "sovereign", labelMap["mode"])
	}
	require.True(t, found, "settler_lowest not gathered")
}

func TestNew_RegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	m, err := New(reg)
	require.Nil(t, m, "expected nil metrics on duplicate registration")

	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncError("test")
		m.UpdateWindowMetrics(1, 2, 3, 4)
		m.RecordSettled(0.5)
		m.RecordFailedBlock("snos")
		m.RecordRPCCall("starknet_blockNumber", nil, 0.1)
		m.RecordStageTransition("snos", "submitted")
		m.ObserveStageDuration("snos", 10)
		m.RecordProverSubmission("snos", nil)
		m.RecordProverPoll("running")
		m.RecordSettlementAttempt(nil)
		m.RecordSinkFailure("kafka")
		m.AddBlocksPruned(3)
	})
}

func TestMetrics_WindowAndSettlement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.UpdateWindowMetrics(500, 1000, 8, 3)
	require.Equal(t, float64(500), testutil.ToFloat64(m.lowest))
	require.Equal(t, float64(1000), testutil.ToFloat64(m.highest))
	require.Equal(t, float64(8), testutil.ToFloat64(m.inflight))
	require.Equal(t, float64(3), testutil.ToFloat64(m.ready))

	m.RecordSettled(1.2)
	m.RecordSettled(0.8)
	require.Equal(t, float64(2), testutil.ToFloat64(m.blocksSettled))

	m.RecordSettlementAttempt(errors.New("nonce too low"))
	m.RecordSettlementAttempt(nil)
	require.Equal(t, float64(1), testutil.ToFloat64(m.settlementAttempts.WithLabelValues(StatusError)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.settlementAttempts.WithLabelValues(StatusSuccess)))
}

func TestMetrics_RecordRPCCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordRPCCall("starknet_getBlockWithTxHashes", nil, 0.05)
	m.RecordRPCCall("starknet_getBlockWithTxHashes", errors.New("connection refused"), 1.0)

	require.Equal(t, float64(1), testutil.ToFloat64(m.rpcCalls.WithLabelValues("starknet_getBlockWithTxHashes", StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rpcCalls.WithLabelValues("starknet_getBlockWithTxHashes", StatusError)))
}

func TestMetrics_StagesAndProver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordStageTransition("snos", "submitted")
	m.RecordStageTransition("snos", "submitted")
	m.RecordStageTransition("layout_bridge", "failed")
	require.Equal(t, float64(2), testutil.ToFloat64(m.stageTransitions.WithLabelValues("snos", "submitted")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.stageTransitions.WithLabelValues("layout_bridge", "failed")))

	m.RecordProverSubmission("snos", errors.New("503"))
	require.Equal(t, float64(1), testutil.ToFloat64(m.proverSubmissions.WithLabelValues("snos", StatusError)))

	m.RecordProverPoll("running")
	m.RecordProverPoll("running")
	require.Equal(t, float64(2), testutil.ToFloat64(m.proverPolls.WithLabelValues("running")))

	m.ObserveStageDuration("snos", 42)
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "settler_stage_duration_seconds" {
			found = true
			require.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	require.True(t, found, "histogram metric not found")
}

func TestMetrics_FailuresAndPruning(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordFailedBlock("settlement")
	m.RecordSinkFailure("clickhouse")
	m.IncError(ErrTypeNotYetProduced)
	m.AddBlocksPruned(0)
	m.AddBlocksPruned(5)

	require.Equal(t, float64(1), testutil.ToFloat64(m.blocksFailed.WithLabelValues("settlement")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.sinkFailures.WithLabelValues("clickhouse")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(ErrTypeNotYetProduced)))
	require.Equal(t, float64(5), testutil.ToFloat64(m.blocksPruned))
}

func TestNamespace(t *testing.T) {
	require.Equal(t, "settler", Namespace)
}
