// Package prometheus renders engine metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts a [goBFF.Engine] and exposes an [http.Handler].
// Counter names are prefixed bff_*_total; the single histogram is
// bff_session_read_latency_seconds. Shared-store connection and pool state
// (bff_store_*) is written even when engine counters are disabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
