package goBFF

import (
	"context"
	"time"
)

const (
	auditEventSessionCreated   = "session_created"
	auditEventSessionTouched   = "session_touched"
	auditEventSessionDestroyed = "session_destroyed"
	auditEventSessionEvicted   = "session_evicted"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshFailure   = "refresh_failure"
	auditEventRateLimited      = "rate_limit_triggered"
	auditEventCSRFRejected     = "csrf_rejected"
	auditEventUntrustedHost    = "untrusted_host"
	auditEventStoreUnavailable = "store_unavailable"
)

// AuditErrorCode is the stable reason string carried in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrCrossOrigin      AuditErrorCode = "cross_origin"
	auditErrUntrustedHost    AuditErrorCode = "untrusted_host"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrRefreshRejected  AuditErrorCode = "refresh_rejected"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sid string, errCode AuditErrorCode, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: shortSessionID(sid),
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Error:     string(errCode),
		Metadata:  metadata,
	})
}

// shortSessionID keeps enough of a sid to correlate log lines without making
// the event usable as a cookie.
func shortSessionID(sid string) string {
	if len(sid) <= 6 {
		return sid
	}
	return sid[:6] + "…"
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}
