package httpapi

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/middleware"
	"github.com/gin-gonic/gin"
)

const requestIDKey = "bff.requestID"

// CodeInternal is written when a handler panics.
const CodeInternal = "INTERNAL_ERROR"

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func abortWithError(c *gin.Context, status int, code string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, middleware.ErrorBody{Error: code, RequestID: requestID(c)})
}

// RequestContext assigns the request id, marks the response no-store and
// puts the request id and client IP on the request context for the engine.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.RequestID(c.Request)
		c.Set(requestIDKey, id)
		c.Header(middleware.RequestIDHeader, id)
		c.Header("Cache-Control", "no-store")

		ctx := middleware.WithRequestID(c.Request.Context(), id)
		ctx = goBFF.WithRequestID(ctx, id)
		ctx = goBFF.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TrustedHost rejects requests whose Host or X-Forwarded-Host does not
// match the canonical origin.
func TrustedHost(engine *goBFF.Engine) gin.HandlerFunc {
	canonical := engine.CanonicalOrigin()
	return func(c *gin.Context) {
		if err := middleware.CheckTrustedHost(c.Request, canonical); err != nil {
			engine.ReportRejection(c.Request.Context(), c.Request.URL.Path, err)
			abortWithError(c, http.StatusForbidden, middleware.CodeUntrustedHost)
			return
		}
		c.Next()
	}
}

// SameOrigin rejects state-changing requests whose Origin (or Referer) is
// not the canonical origin.
func SameOrigin(engine *goBFF.Engine) gin.HandlerFunc {
	origin := middleware.Origin(engine.CanonicalOrigin())
	return func(c *gin.Context) {
		if !middleware.StateChanging(c.Request.Method) {
			c.Next()
			return
		}
		if err := middleware.CheckSameOrigin(c.Request, origin); err != nil {
			engine.ReportRejection(c.Request.Context(), c.Request.URL.Path, err)
			abortWithError(c, http.StatusForbidden, middleware.CodeCSRFRejected)
			return
		}
		c.Next()
	}
}

// SameSiteNavigation rejects safe-method requests the browser reports as
// cross-site. It guards GET routes that change state.
func SameSiteNavigation(engine *goBFF.Engine) gin.HandlerFunc {
	origin := middleware.Origin(engine.CanonicalOrigin())
	return func(c *gin.Context) {
		if middleware.StateChanging(c.Request.Method) {
			c.Next()
			return
		}
		if err := middleware.CheckNavigation(c.Request, origin); err != nil {
			engine.ReportRejection(c.Request.Context(), c.Request.URL.Path, err)
			abortWithError(c, http.StatusForbidden, middleware.CodeCSRFRejected)
			return
		}
		c.Next()
	}
}

// RateLimit counts each request against scope, keyed by client IP.
func RateLimit(engine *goBFF.Engine, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := engine.Allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			abortWithError(c, http.StatusServiceUnavailable, middleware.CodeSessionUnavailable)
			return
		}
		if err := d.Err(); err != nil {
			_ = c.Error(err)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			abortWithError(c, http.StatusTooManyRequests, middleware.CodeRateLimited)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// AccessLog logs one line per request, at a level chosen by status class.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", requestID(c),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Error("http request", attrs...)
		case status >= 400:
			logger.Warn("http request", attrs...)
		default:
			logger.Debug("http request", attrs...)
		}
	}
}

// Recovery turns a panic into a logged 500 with the standard error body.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("http handler panic", "panic", recovered, "path", c.Request.URL.Path, "request_id", requestID(c))
		abortWithError(c, http.StatusInternalServerError, CodeInternal)
	})
}
