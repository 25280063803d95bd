// Package metrics defines the Prometheus metrics of the service: engine and
// session gauges, per-node re-blocking counters and HTTP API metrics.
package metrics
