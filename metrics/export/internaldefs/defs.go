package internaldefs

import (
	"github.com/MrEthical07/goBFF"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goBFF.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   goBFF.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goBFF.MetricSessionCreated, Name: "bff_session_created_total", Help: "Sessions created at login."},
	{ID: goBFF.MetricSessionTouched, Name: "bff_session_touched_total", Help: "Touches that extended the idle expiry."},
	{ID: goBFF.MetricSessionTouchThrottled, Name: "bff_session_touch_throttled_total", Help: "Touches suppressed by the touch throttle."},
	{ID: goBFF.MetricSessionDestroyed, Name: "bff_session_destroyed_total", Help: "Sessions destroyed by logout."},
	{ID: goBFF.MetricSessionMissing, Name: "bff_session_missing_total", Help: "Lookups for sessions that did not exist."},
	{ID: goBFF.MetricSessionEvictedCorrupt, Name: "bff_session_evicted_corrupt_total", Help: "Records deleted because they failed to parse or validate."},
	{ID: goBFF.MetricSessionEvictedExpired, Name: "bff_session_evicted_expired_total", Help: "Records deleted on read after idle or absolute expiry."},
	{ID: goBFF.MetricSessionEvictedUndecryptable, Name: "bff_session_evicted_undecryptable_total", Help: "Records deleted because the token envelope could not be opened."},
	{ID: goBFF.MetricRefreshSuccess, Name: "bff_refresh_success_total", Help: "Successful upstream token refreshes."},
	{ID: goBFF.MetricRefreshFailure, Name: "bff_refresh_failure_total", Help: "Failed upstream token refreshes."},
	{ID: goBFF.MetricRefreshContended, Name: "bff_refresh_contended_total", Help: "Refreshes that waited on another holder of the session lock."},
	{ID: goBFF.MetricRateLimitHit, Name: "bff_rate_limit_hit_total", Help: "Requests denied by the rate limiter."},
	{ID: goBFF.MetricCSRFRejected, Name: "bff_csrf_rejected_total", Help: "State-changing requests rejected by the same-origin check."},
	{ID: goBFF.MetricUntrustedHost, Name: "bff_untrusted_host_total", Help: "Requests rejected by the trusted-host check."},
	{ID: goBFF.MetricStoreUnavailable, Name: "bff_store_unavailable_total", Help: "Operations that failed because the shared store was unreachable."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goBFF.MetricSessionReadLatency, Name: "bff_session_read_latency_seconds", Help: "Session read latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array; missing buckets are zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
