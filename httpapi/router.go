package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/MrEthical07/goBFF"
	"github.com/gin-gonic/gin"
)

// Codes for requests that match no route.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type routerOptions struct {
	logger         *slog.Logger
	loginFlow      bool
	trustedProxies []string
	extra          []func(*gin.Engine)
}

// Option configures [NewRouter].
type Option func(*routerOptions)

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *routerOptions) { o.logger = l }
}

// WithLoginFlow mounts /auth/login and /auth/callback. The engine must have
// an OAuth client configured.
func WithLoginFlow() Option {
	return func(o *routerOptions) { o.loginFlow = true }
}

// WithTrustedProxies lists the proxies whose X-Forwarded-For and X-Real-IP
// headers are used to find the client IP. Without it the peer address is
// the client, so a caller cannot pick its own rate-limit key.
func WithTrustedProxies(proxies ...string) Option {
	return func(o *routerOptions) { o.trustedProxies = append(o.trustedProxies, proxies...) }
}

// WithRoutes lets the host application add its own routes behind the same
// middleware chain.
func WithRoutes(fn func(*gin.Engine)) Option {
	return func(o *routerOptions) { o.extra = append(o.extra, fn) }
}

// NewRouter returns a gin engine serving the session endpoints behind the
// request-id, trusted-host and same-origin checks.
func NewRouter(engine *goBFF.Engine, opts ...Option) *gin.Engine {
	o := routerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(o.trustedProxies); err != nil {
		o.logger.Error("goBFF: invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(
		RequestContext(),
		Recovery(o.logger),
		AccessLog(o.logger),
		TrustedHost(engine),
		SameOrigin(engine),
	)

	h := NewHandler(engine, o.logger)
	Register(r, engine, h)
	if o.loginFlow {
		RegisterLogin(r, engine, h)
	}
	for _, fn := range o.extra {
		fn(r)
	}

	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, CodeNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		abortWithError(c, http.StatusMethodNotAllowed, CodeMethodNotAllowed)
	})

	return r
}

// Register mounts the session endpoints on r. The caller is responsible for
// installing the request checks.
func Register(r gin.IRoutes, engine *goBFF.Engine, h *Handler) {
	r.GET(statusPath, RateLimit(engine, goBFF.ScopeStatus), h.Status)
	r.POST(touchPath, RateLimit(engine, goBFF.ScopeTouch), h.Touch)
	r.GET(clearPath, SameSiteNavigation(engine), RateLimit(engine, goBFF.ScopeClear), h.Clear)
	r.POST(clearPath, RateLimit(engine, goBFF.ScopeClear), h.Clear)
}

// RegisterLogin mounts the authorization-code login endpoints on r.
func RegisterLogin(r gin.IRoutes, engine *goBFF.Engine, h *Handler) {
	r.GET(loginPath, RateLimit(engine, goBFF.ScopeAuth), h.Login)
	r.GET(callbackPath, RateLimit(engine, goBFF.ScopeAuth), h.Callback)
}
