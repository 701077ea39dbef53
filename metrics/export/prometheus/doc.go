// Package prometheus renders engine metrics in the Prometheus text exposition
// format. Outcome counters are grouped into labelled families such as
// goverify_verify_total{outcome="invalid_code"}; the delivery latency
// histogram is goverify_delivery_latency_seconds. Callers mount
// [PrometheusExporter.Handler].
package prometheus
