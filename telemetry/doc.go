// Package telemetry tracks queue metrics: submissions accepted,
// transmitted, retried, acknowledged, rejected and dead-lettered,
// per-gateway failure counts, and acknowledgment latency.
//
// Metrics is the counter set. Workers record directly:
//
//	metrics := telemetry.NewMetrics(exporter)
//	metrics.RecordTransmitted("mef")
//	metrics.ObserveAckLatency(time.Since(transmittedAt))
//
// or a Collector feeds it from the event bus, which keeps an admin
// API node's counters current when workers run elsewhere:
//
//	collector := telemetry.NewCollector(mbus, metrics)
//	collector.Start()
//
// Snapshot serves the admin API's stats endpoint. Exporters mirror
// individual events to an HTTP endpoint or a JSONL file; the noop
// exporter discards them.
package telemetry
