// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// [NewOTelExporter] registers one observable counter per metric family, with
// the outcome carried as an attribute, and one observable gauge per delivery
// latency bucket. A single callback reads [goVerify.Engine.MetricsSnapshot]
// on each collection. The caller owns the MeterProvider.
package otel
