package goBFF

import (
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goBFF/internal/audit"
	internalmetrics "github.com/MrEthical07/goBFF/internal/metrics"
	"github.com/MrEthical07/goBFF/kv"
	"github.com/MrEthical07/goBFF/session"
)

// TokenSet is the identity-provider token bundle held for a session.
type TokenSet = session.TokenSet

// SessionStatus is the browser-safe view of a session. It never carries
// token material.
//
//	Docs: docs/session.md
type SessionStatus struct {
	SessionID         string
	UserID            string
	UserEmail         string
	CreatedAt         time.Time
	LastSeenAt        time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
	// RefreshFailed is set once an upstream refresh has been rejected.
	RefreshFailed bool
}

// TouchOutcome is returned by [Engine.Touch]. Found is false when the
// session could not be resolved.
type TouchOutcome struct {
	Found             bool
	Touched           bool
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
}

// RateDecision is returned by [Engine.Allow].
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Err returns [ErrRateLimited] for a denied decision and nil otherwise.
func (d RateDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// AuditEvent is one session lifecycle or policy event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the asynchronous dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogAuditSink returns a sink that logs each event on l at level.
func NewSlogAuditSink(l *slog.Logger, level slog.Level) *SlogSink {
	return internalaudit.NewSlogSink(l, level)
}

// MetricID identifies one engine counter.
type MetricID = internalmetrics.MetricID

const (
	MetricSessionCreated              = internalmetrics.MetricSessionCreated
	MetricSessionTouched              = internalmetrics.MetricSessionTouched
	MetricSessionTouchThrottled       = internalmetrics.MetricSessionTouchThrottled
	MetricSessionDestroyed            = internalmetrics.MetricSessionDestroyed
	MetricSessionMissing              = internalmetrics.MetricSessionMissing
	MetricSessionEvictedCorrupt       = internalmetrics.MetricSessionEvictedCorrupt
	MetricSessionEvictedExpired       = internalmetrics.MetricSessionEvictedExpired
	MetricSessionEvictedUndecryptable = internalmetrics.MetricSessionEvictedUndecryptable
	MetricRefreshSuccess              = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure              = internalmetrics.MetricRefreshFailure
	MetricRefreshContended            = internalmetrics.MetricRefreshContended
	MetricRateLimitHit                = internalmetrics.MetricRateLimitHit
	MetricCSRFRejected                = internalmetrics.MetricCSRFRejected
	MetricUntrustedHost               = internalmetrics.MetricUntrustedHost
	MetricStoreUnavailable            = internalmetrics.MetricStoreUnavailable
	MetricSessionReadLatency          = internalmetrics.MetricSessionReadLatency
)

// Metrics holds engine counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// StoreStats describes the shared-store connection and its pool.
type StoreStats = kv.Stats

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
