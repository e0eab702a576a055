package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/MrEthical07/goBFF/session"
)

// Stable error codes written in JSON error bodies.
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeCSRFRejected           = "CSRF_REJECTED"
	CodeUntrustedHost          = "UNTRUSTED_HOST"
	CodeRateLimited            = "RATE_LIMITED"
	CodeSessionUnavailable     = "SESSION_UNAVAILABLE"
	CodeInvalidRequest         = "INVALID_REQUEST"
)

// ErrorBody is the JSON shape of every rejection.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

type requestIDContextKey struct{}

type sessionContextKey struct{}

type resolvedSession struct {
	sid   string
	token session.TokenSet
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id stored by [RequestIDs].
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey{}).(string)
	return id, ok
}

// SessionFromContext returns the sid and token bundle resolved by [RequireSession].
func SessionFromContext(ctx context.Context) (string, session.TokenSet, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(resolvedSession)
	if !ok {
		return "", session.TokenSet{}, false
	}
	return s.sid, s.token, true
}

// Rejection is called with the request and the policy error before a
// rejection is written.
type Rejection func(r *http.Request, err error)

// Option configures the adapters in this package.
type Option func(*options)

type options struct {
	onReject Rejection
}

// OnReject registers a hook for policy rejections.
func OnReject(fn Rejection) Option {
	return func(o *options) { o.onReject = fn }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WriteError writes a no-store JSON rejection carrying the request id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string) {
	id, _ := RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code, RequestID: id})
}

// RequestIDs assigns every request a correlation id, echoes it in the
// response and marks the response no-store.
func RequestIDs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := RequestID(r)
		w.Header().Set(RequestIDHeader, id)
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// TrustedHost rejects requests whose effective host is not canonical's.
func TrustedHost(canonical *url.URL, opts ...Option) func(http.Handler) http.Handler {
	o := collect(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := CheckTrustedHost(r, canonical); err != nil {
				if o.onReject != nil {
					o.onReject(r, err)
				}
				WriteError(w, r, http.StatusForbidden, CodeUntrustedHost)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SameOrigin applies [CheckSameOrigin] to state-changing methods.
func SameOrigin(canonicalOrigin string, opts ...Option) func(http.Handler) http.Handler {
	o := collect(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if StateChanging(r.Method) {
				if err := CheckSameOrigin(r, canonicalOrigin); err != nil {
					if o.onReject != nil {
						o.onReject(r, err)
					}
					WriteError(w, r, http.StatusForbidden, CodeCSRFRejected)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Resolver resolves a sid to its token bundle. *session.Store satisfies it.
type Resolver interface {
	Decode(ctx context.Context, sid string) (session.TokenSet, bool, error)
}

// SessionCookie returns the first non-empty cookie among names.
func SessionCookie(r *http.Request, names []string) (string, bool) {
	for _, name := range names {
		c, err := r.Cookie(name)
		if err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// RequireSession resolves the session cookie and places the bundle in the
// request context. Missing sessions get 401; store failures get 503.
func RequireSession(resolver Resolver, cookieNames []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				WriteError(w, r, http.StatusServiceUnavailable, CodeSessionUnavailable)
				return
			}
			sid, ok := SessionCookie(r, cookieNames)
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, CodeAuthenticationRequired)
				return
			}
			token, ok, err := resolver.Decode(r.Context(), sid)
			if err != nil {
				WriteError(w, r, http.StatusServiceUnavailable, CodeSessionUnavailable)
				return
			}
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, CodeAuthenticationRequired)
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey{}, resolvedSession{sid: sid, token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
