// Package metrics exposes Prometheus instrumentation for the reconcilers
// (cycle counts, durations, trade sync, downloads, usage) plus the
// health/readiness HTTP handlers served alongside /metrics.
package metrics
