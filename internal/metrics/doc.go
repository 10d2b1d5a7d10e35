// Package metrics defines Prometheus metrics for the analysis pipeline and
// serves them over a dedicated HTTP port.
//
// All metrics are registered automatically at package init time using
// promauto. Call InitializeMetrics once at startup to pre-populate label
// combinations, then Serve to expose /metrics and /healthz.
package metrics
