package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics accumulates queue counters. All methods are safe for
// concurrent use; counters only ever go up, so a Snapshot taken while
// workers run is internally consistent enough for dashboards.
type Metrics struct {
	submitted    atomic.Uint64
	transmitted  atomic.Uint64
	retried      atomic.Uint64
	acknowledged atomic.Uint64
	rejected     atomic.Uint64
	deadLettered atomic.Uint64

	mu              sync.Mutex
	gatewayFailures map[string]uint64
	ackLatencySum   time.Duration
	ackLatencyCount uint64

	exporter Exporter
	since    time.Time
}

// NewMetrics creates a Metrics that mirrors every event to exporter.
// A nil exporter discards events.
func NewMetrics(exporter Exporter) *Metrics {
	if exporter == nil {
		exporter = NewNoopExporter()
	}
	return &Metrics{
		gatewayFailures: make(map[string]uint64),
		exporter:        exporter,
		since:           time.Now().UTC(),
	}
}

// RecordSubmitted counts a submission accepted into the queue.
func (m *Metrics) RecordSubmitted(gateway string) {
	m.submitted.Add(1)
	m.exporter.LogEvent("queue.submitted", map[string]interface{}{"gateway": gateway})
}

// RecordTransmitted counts a successful transmission to a gateway.
func (m *Metrics) RecordTransmitted(gateway string) {
	m.transmitted.Add(1)
	m.exporter.LogEvent("queue.transmitted", map[string]interface{}{"gateway": gateway})
}

// RecordRetry counts a failed attempt that was rescheduled.
func (m *Metrics) RecordRetry(gateway string) {
	m.retried.Add(1)
	m.exporter.LogEvent("queue.retried", map[string]interface{}{"gateway": gateway})
}

// RecordAcknowledged counts a submission accepted by the gateway.
func (m *Metrics) RecordAcknowledged(gateway string) {
	m.acknowledged.Add(1)
	m.exporter.LogEvent("queue.acknowledged", map[string]interface{}{"gateway": gateway})
}

// RecordRejected counts a submission the gateway rejected.
func (m *Metrics) RecordRejected(gateway string) {
	m.rejected.Add(1)
	m.exporter.LogEvent("queue.rejected", map[string]interface{}{"gateway": gateway})
}

// RecordDead counts a submission moved to the dead-letter queue.
func (m *Metrics) RecordDead(gateway string) {
	m.deadLettered.Add(1)
	m.exporter.LogEvent("queue.dead", map[string]interface{}{"gateway": gateway})
}

// RecordGatewayFailure counts a transient gateway failure.
func (m *Metrics) RecordGatewayFailure(gateway string) {
	m.mu.Lock()
	m.gatewayFailures[gateway]++
	m.mu.Unlock()
	m.exporter.LogEvent("gateway.failure", map[string]interface{}{"gateway": gateway})
}

// ObserveAckLatency records the time from transmission to
// acknowledgment for one submission.
func (m *Metrics) ObserveAckLatency(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.ackLatencySum += d
	m.ackLatencyCount++
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Submitted    uint64 `json:"submitted"`
	Transmitted  uint64 `json:"transmitted"`
	Retried      uint64 `json:"retried"`
	Acknowledged uint64 `json:"acknowledged"`
	Rejected     uint64 `json:"rejected"`
	DeadLettered uint64 `json:"dead_lettered"`

	// AckLatencyAvgMS is the mean transmission-to-acknowledgment
	// latency in milliseconds, 0 when nothing has been acknowledged.
	AckLatencyAvgMS float64 `json:"ack_latency_avg_ms"`

	// GatewayFailures counts transient failures per gateway.
	GatewayFailures map[string]uint64 `json:"gateway_failures"`

	Since   time.Time `json:"since"`
	TakenAt time.Time `json:"taken_at"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Submitted:    m.submitted.Load(),
		Transmitted:  m.transmitted.Load(),
		Retried:      m.retried.Load(),
		Acknowledged: m.acknowledged.Load(),
		Rejected:     m.rejected.Load(),
		DeadLettered: m.deadLettered.Load(),
		Since:        m.since,
		TakenAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	snap.GatewayFailures = make(map[string]uint64, len(m.gatewayFailures))
	for gw, n := range m.gatewayFailures {
		snap.GatewayFailures[gw] = n
	}
	if m.ackLatencyCount > 0 {
		snap.AckLatencyAvgMS = float64(m.ackLatencySum.Milliseconds()) / float64(m.ackLatencyCount)
	}
	m.mu.Unlock()

	return snap
}

// Gateways returns the gateways with recorded failures, sorted.
func (m *Metrics) Gateways() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	gws := make([]string, 0, len(m.gatewayFailures))
	for gw := range m.gatewayFailures {
		gws = append(gws, gw)
	}
	sort.Strings(gws)
	return gws
}

// Export flushes the underlying exporter.
func (m *Metrics) Export() error {
	return m.exporter.Flush()
}
