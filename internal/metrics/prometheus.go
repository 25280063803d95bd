package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the re-blocking audio service
type Metrics struct {
	// Engine metrics
	QuantaRendered prometheus.Counter
	SkippedQuanta  prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Per-node re-blocking metrics
	NodeQuanta            *prometheus.CounterVec
	NodeBlocksEmitted     *prometheus.CounterVec
	NodeBlocksProcessed   *prometheus.CounterVec
	NodeBlocksDropped     *prometheus.CounterVec
	NodeSilentQuanta      *prometheus.CounterVec
	NodeUnderruns         *prometheus.CounterVec
	NodeChannelMismatches *prometheus.CounterVec
	NodeFaults            *prometheus.CounterVec
	NodeIgnoredInits      *prometheus.CounterVec
	NodeHandlerPanics     *prometheus.CounterVec
	NodeQueueDepth        *prometheus.GaugeVec
	NodeMailboxDepth      *prometheus.GaugeVec
	HandlerDuration       *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NodeCounters is an increment of the per-node counters.
type NodeCounters struct {
	Quanta            uint64
	BlocksEmitted     uint64
	BlocksProcessed   uint64
	BlocksDropped     uint64
	SilentQuanta      uint64
	Underruns         uint64
	ChannelMismatches uint64
	Faults            uint64
	IgnoredInits      uint64
	HandlerPanics     uint64
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	nodeCounter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reblock_node_" + name,
			Help: help,
		}, []string{"node"})
	}

	return &Metrics{
		// Engine metrics
		QuantaRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "reblock_quanta_rendered_total",
			Help: "Total number of render quanta processed by the engine",
		}),
		SkippedQuanta: factory.NewCounter(prometheus.CounterOpts{
			Name: "reblock_quanta_skipped_total",
			Help: "Total number of render quanta skipped after the render loop fell behind",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reblock_active_sessions",
			Help: "Current number of script processor sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "reblock_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reblock_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reblock_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Per-node metrics
		NodeQuanta:            nodeCounter("quanta_total", "Render quanta processed by the node"),
		NodeBlocksEmitted:     nodeCounter("blocks_emitted_total", "Input blocks handed to the client side"),
		NodeBlocksProcessed:   nodeCounter("blocks_processed_total", "Blocks processed by the handler and posted back"),
		NodeBlocksDropped:     nodeCounter("blocks_dropped_total", "Blocks dropped because no handler was set or it panicked"),
		NodeSilentQuanta:      nodeCounter("silent_quanta_total", "Output quanta rendered as silence"),
		NodeUnderruns:         nodeCounter("underruns_total", "Silent output quanta after audio had started"),
		NodeChannelMismatches: nodeCounter("channel_mismatches_total", "Quanta or blocks whose channel layout had to be normalized"),
		NodeFaults:            nodeCounter("faults_total", "Quanta in which the render processor failed"),
		NodeIgnoredInits:      nodeCounter("ignored_inits_total", "Configuration messages ignored after audio started"),
		NodeHandlerPanics:     nodeCounter("handler_panics_total", "Block handler invocations that panicked"),
		NodeQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reblock_node_queue_depth",
			Help: "Processed blocks waiting to be played",
		}, []string{"node"}),
		NodeMailboxDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reblock_node_mailbox_depth",
			Help: "Input blocks waiting for the client side",
		}, []string{"node"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reblock_handler_duration_seconds",
			Help:    "Time spent in the block handler",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}, []string{"node"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reblock_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reblock_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reblock_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordQuanta adds rendered and skipped quanta
func (m *Metrics) RecordQuanta(rendered, skipped uint64) {
	m.QuantaRendered.Add(float64(rendered))
	m.SkippedQuanta.Add(float64(skipped))
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordNodeCounters adds delta to the counters of node
func (m *Metrics) RecordNodeCounters(node string, delta NodeCounters) {
	add := func(vec *prometheus.CounterVec, v uint64) {
		if v > 0 {
			vec.WithLabelValues(node).Add(float64(v))
		}
	}
	add(m.NodeQuanta, delta.Quanta)
	add(m.NodeBlocksEmitted, delta.BlocksEmitted)
	add(m.NodeBlocksProcessed, delta.BlocksProcessed)
	add(m.NodeBlocksDropped, delta.BlocksDropped)
	add(m.NodeSilentQuanta, delta.SilentQuanta)
	add(m.NodeUnderruns, delta.Underruns)
	add(m.NodeChannelMismatches, delta.ChannelMismatches)
	add(m.NodeFaults, delta.Faults)
	add(m.NodeIgnoredInits, delta.IgnoredInits)
	add(m.NodeHandlerPanics, delta.HandlerPanics)
}

// SetNodeDepths sets the output queue and mailbox depth of node
func (m *Metrics) SetNodeDepths(node string, queueDepth, mailboxDepth int) {
	m.NodeQueueDepth.WithLabelValues(node).Set(float64(queueDepth))
	m.NodeMailboxDepth.WithLabelValues(node).Set(float64(mailboxDepth))
}

// ObserveHandlerDuration records one handler invocation of node
func (m *Metrics) ObserveHandlerDuration(node string, durationSeconds float64) {
	m.HandlerDuration.WithLabelValues(node).Observe(durationSeconds)
}

// RemoveNode drops every series labelled with node
func (m *Metrics) RemoveNode(node string) {
	for _, vec := range []*prometheus.CounterVec{
		m.NodeQuanta, m.NodeBlocksEmitted, m.NodeBlocksProcessed, m.NodeBlocksDropped,
		m.NodeSilentQuanta, m.NodeUnderruns, m.NodeChannelMismatches, m.NodeFaults,
		m.NodeIgnoredInits, m.NodeHandlerPanics,
	} {
		vec.DeleteLabelValues(node)
	}
	m.NodeQueueDepth.DeleteLabelValues(node)
	m.NodeMailboxDepth.DeleteLabelValues(node)
	m.HandlerDuration.DeleteLabelValues(node)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
