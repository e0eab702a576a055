// Package otel binds engine counters, the session read latency histogram and
// shared-store connection state to OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter, an
// Int64ObservableGauge per histogram bucket, and a counter or gauge per
// store and audit value. A single callback reads the snapshot and store
// state once per collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
