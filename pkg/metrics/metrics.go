package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "settler"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	RPC        = "rpc"
	Stage      = "stage"
	Prover     = "prover"
	Settlement = "settlement"
	Sink       = "sink"
	Store      = "store"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple settler instances.
type Labels struct {
	PipelineID    string // Pipeline identifier (one cursor per pipeline)
	Mode          string // Settlement mode ("persistent" or "sovereign")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.PipelineID != "" {
		labels["pipeline_id"] = l.PipelineID
	}
	if l.Mode != "" {
		labels["mode"] = l.Mode
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Window state
	lowest   prometheus.Gauge
	highest  prometheus.Gauge
	inflight prometheus.Gauge
	ready    prometheus.Gauge

	// Pipeline counters
	blocksSettled prometheus.Counter
	blocksFailed  *prometheus.CounterVec
	errors        *prometheus.CounterVec

	// RPC metrics (block source, settlement chain, DA node)
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	// Proof stages
	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec

	// Prover service
	proverSubmissions *prometheus.CounterVec
	proverPolls       *prometheus.CounterVec

	// Settlement
	settlementAttempts *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	sinkFailures       *prometheus.CounterVec

	// Cursor store maintenance
	blocksPruned prometheus.Counter
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., pipeline_id), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lowest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "lowest",
			Help:      "Next block to settle (window lower bound)",
		}),
		highest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "highest",
			Help:      "Highest block known to exist (chain head)",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "inflight_blocks",
			Help:      "Number of blocks being fetched or proved",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ready_blocks",
			Help:      "Number of proved blocks waiting for in-order settlement",
		}),
		blocksSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_settled_total",
			Help:      "Total number of blocks settled and committed to the cursor",
		}),
		blocksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_failed_total",
			Help:      "Total number of blocks added to the failed list by stage",
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			// Buckets cover typical RPC latencies: 1ms, 5ms, 10ms, 25ms, 50ms,
			// 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "transitions_total",
			Help:      "Total proof stage transitions by stage and target status",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "duration_seconds",
			Help:      "Time from input building to a terminal stage status",
			// Proving takes minutes to hours.
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}, []string{"stage"}),
		proverSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Prover,
			Name:      "submissions_total",
			Help:      "Total proof job submissions by stage and status",
		}, []string{"stage", "status"}),
		proverPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Prover,
			Name:      "polls_total",
			Help:      "Total proof job polls by outcome",
		}, []string{"outcome"}),
		settlementAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Settlement,
			Name:      "attempts_total",
			Help:      "Total settlement attempts by status",
		}, []string{"status"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Settlement,
			Name:      "duration_seconds",
			Help:      "Time to finalize a block including retries",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Sink,
			Name:      "failures_total",
			Help:      "Total settlement record sink failures by sink",
		}, []string{"sink"}),
		blocksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Store,
			Name:      "blocks_pruned_total",
			Help:      "Total number of blocks whose proving artifacts were pruned",
		}),
	}

	err := errors.Join(
		reg.Register(m.lowest),
		reg.Register(m.highest),
		reg.Register(m.inflight),
		reg.Register(m.ready),
		reg.Register(m.blocksSettled),
		reg.Register(m.blocksFailed),
		reg.Register(m.errors),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.stageTransitions),
		reg.Register(m.stageDuration),
		reg.Register(m.proverSubmissions),
		reg.Register(m.proverPolls),
		reg.Register(m.settlementAttempts),
		reg.Register(m.settlementDuration),
		reg.Register(m.sinkFailures),
		reg.Register(m.blocksPruned),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants.
const (
	ErrTypeNotYetProduced = "not_yet_produced"
	ErrTypeWorker         = "worker"
	ErrTypeSettlement     = "settlement"
	ErrTypeStore          = "store"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// UpdateWindowMetrics updates window state gauges.
func (m *Metrics) UpdateWindowMetrics(lowest, highest uint64, inflight, ready int) {
	if m == nil {
		return
	}
	m.lowest.Set(float64(lowest))
	m.highest.Set(float64(highest))
	m.inflight.Set(float64(inflight))
	m.ready.Set(float64(ready))
}

// RecordSettled records a block whose settlement is durable.
func (m *Metrics) RecordSettled(durationSeconds float64) {
	if m == nil {
		return
	}
	m.blocksSettled.Inc()
	m.settlementDuration.Observe(durationSeconds)
}

// RecordFailedBlock records a block added to the failed list.
func (m *Metrics) RecordFailedBlock(stage string) {
	if m == nil {
		return
	}
	m.blocksFailed.WithLabelValues(stage).Inc()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordStageTransition counts a stage entering status.
func (m *Metrics) RecordStageTransition(stage, status string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(stage, status).Inc()
}

// ObserveStageDuration records how long a stage took to reach a terminal status.
func (m *Metrics) ObserveStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordProverSubmission records a proof job submission outcome.
func (m *Metrics) RecordProverSubmission(stage string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.proverSubmissions.WithLabelValues(stage, status).Inc()
}

// RecordProverPoll records a poll outcome ("running", "succeeded", "failed", "error").
func (m *Metrics) RecordProverPoll(outcome string) {
	if m == nil {
		return
	}
	m.proverPolls.WithLabelValues(outcome).Inc()
}

// RecordSettlementAttempt records one call to the settlement backend.
func (m *Metrics) RecordSettlementAttempt(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.settlementAttempts.WithLabelValues(status).Inc()
}

// RecordSinkFailure records a failed delivery of a settlement record.
func (m *Metrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

// AddBlocksPruned records blocks whose proving artifacts were removed.
func (m *Metrics) AddBlocksPruned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.blocksPruned.Add(float64(count))
}
