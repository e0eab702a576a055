// Package internaldefs exposes stable metric name and label definitions shared by
// exporter implementations.
//
// Counter, histogram and store-state definitions live here so that both the
// Prometheus and OTel exporters share identical metric names and bucket
// boundaries. Counters come from the engine snapshot; state values
// (store connection, pool, audit pipeline) come from [ReadState] and are
// exported whether or not counters are enabled.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
