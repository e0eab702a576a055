package goBFF

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	internalaudit "github.com/MrEthical07/goBFF/internal/audit"
	internalmetrics "github.com/MrEthical07/goBFF/internal/metrics"
	"github.com/MrEthical07/goBFF/internal/rate"
	"github.com/MrEthical07/goBFF/jwt"
	"github.com/MrEthical07/goBFF/kv"
	"github.com/MrEthical07/goBFF/middleware"
	"github.com/MrEthical07/goBFF/refresh"
	"github.com/MrEthical07/goBFF/session"
)

// Engine owns the session store, its shared-store connection, the refresh
// coordinator and the ambient metrics and audit pipelines. Construct it with
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config    Config
	canonical *url.URL
	logger    *slog.Logger
	now       func() time.Time

	kv          *kv.Client
	sessions    *session.Store
	rateLimiter *rate.Limiter
	coordinator *refresh.Coordinator
	oauth       *refresh.OAuth2Client
	identity    *jwt.Reader

	audit   *internalaudit.Dispatcher
	metrics *internalmetrics.Metrics
}

// Close stops the audit dispatcher, delivering queued events, and releases
// the shared-store connection. A client passed to [Builder.WithRedis] is
// left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.kv != nil {
		if err := e.kv.Close(); err != nil {
			e.logger.Warn("goBFF: closing store", "error", err)
		}
	}
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full or the caller gave up.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered returns how many audit events reached the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// StoreStats reports the shared-store connection without dialing it.
func (e *Engine) StoreStats() StoreStats {
	if e == nil || e.kv == nil {
		return StoreStats{}
	}
	return e.kv.Stats()
}

// MetricsSnapshot returns a copy of all counters. It is empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// CanonicalOrigin returns the parsed public origin.
func (e *Engine) CanonicalOrigin() *url.URL {
	if e == nil || e.canonical == nil {
		return nil
	}
	u := *e.canonical
	return &u
}

// Ping checks that the shared store answers.
//
//	Performance: 1 Redis command
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	rtt, err := e.kv.Ping(ctx)
	if err != nil {
		err = errors.Join(ErrStoreUnavailable, err)
		e.storeFailure(ctx, err)
		return 0, err
	}
	return rtt, nil
}

// storeFailure counts and audits infrastructure errors. Absence and policy
// errors are not store failures.
func (e *Engine) storeFailure(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, ErrStoreUnavailable) && !errors.Is(err, ErrRateLimitUnavailable) {
		return
	}
	e.metricInc(MetricStoreUnavailable)
	e.logger.Warn("goBFF: session store unavailable", "error", err)
	e.emitAudit(ctx, auditEventStoreUnavailable, false, "", "", auditErrStoreUnavailable, nil)
}

// ReportRejection records a request refused by the middleware checks. It
// lets the HTTP layer feed metrics and audit without knowing about them.
func (e *Engine) ReportRejection(ctx context.Context, path string, err error) {
	if e == nil || err == nil {
		return
	}
	meta := map[string]string{"path": path}
	switch {
	case errors.Is(err, middleware.ErrCrossOrigin):
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(ctx, auditEventCSRFRejected, false, "", "", auditErrCrossOrigin, meta)
	case errors.Is(err, middleware.ErrUntrustedHost):
		e.metricInc(MetricUntrustedHost)
		e.emitAudit(ctx, auditEventUntrustedHost, false, "", "", auditErrUntrustedHost, meta)
	}
}

// engineObserver turns store and refresh callbacks into metrics and audit
// events.
type engineObserver struct {
	e *Engine
}

func (o engineObserver) SessionEvicted(reason session.EvictReason) {
	switch reason {
	case session.EvictCorrupt:
		o.e.metricInc(MetricSessionEvictedCorrupt)
	case session.EvictExpired:
		o.e.metricInc(MetricSessionEvictedExpired)
	case session.EvictUndecryptable:
		o.e.metricInc(MetricSessionEvictedUndecryptable)
	}
	o.e.emitAudit(context.Background(), auditEventSessionEvicted, true, "", "", "", map[string]string{"reason": string(reason)})
}

func (o engineObserver) RefreshSucceeded() {
	o.e.metricInc(MetricRefreshSuccess)
	o.e.emitAudit(context.Background(), auditEventRefreshSuccess, true, "", "", "", nil)
}

func (o engineObserver) RefreshFailed() {
	o.e.metricInc(MetricRefreshFailure)
	o.e.emitAudit(context.Background(), auditEventRefreshFailure, false, "", "", auditErrRefreshRejected, nil)
}

func (o engineObserver) RefreshContended() {
	o.e.metricInc(MetricRefreshContended)
}
