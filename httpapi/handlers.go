package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/middleware"
	"github.com/MrEthical07/goBFF/session"
	"github.com/gin-gonic/gin"
)

const (
	statusPath = "/session/status"
	touchPath  = "/session/touch"
	clearPath  = "/session/clear"

	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

type statusResponse struct {
	Authenticated     bool    `json:"authenticated"`
	IdleExpiresAt     *string `json:"idleExpiresAt"`
	AbsoluteExpiresAt *string `json:"absoluteExpiresAt"`
	RequestID         string  `json:"requestId"`
}

type touchRequest struct {
	ExtendSeconds *int `json:"extendSeconds"`
}

type touchResponse struct {
	Touched           bool    `json:"touched"`
	IdleExpiresAt     *string `json:"idleExpiresAt"`
	AbsoluteExpiresAt *string `json:"absoluteExpiresAt"`
	RequestID         string  `json:"requestId"`
}

// Handler serves the session endpoints.
type Handler struct {
	engine    *goBFF.Engine
	cookies   Cookies
	logger    *slog.Logger
	maxExtend int64
}

// NewHandler binds the session endpoints to engine.
func NewHandler(engine *goBFF.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := engine.Config()
	return &Handler{
		engine:    engine,
		cookies:   NewCookies(cfg.Cookie, engine.CanonicalOrigin()),
		logger:    logger,
		maxExtend: max(1, int64(cfg.Session.MaxTouchExtension/time.Second)),
	}
}

// Cookies returns the cookie contract the handler reads and writes.
func (h *Handler) Cookies() Cookies { return h.cookies }

// Status reports whether the caller has a live session and when it expires.
func (h *Handler) Status(c *gin.Context) {
	resp := statusResponse{RequestID: requestID(c)}

	sid, ok := h.cookies.SessionID(c.Request)
	if !ok {
		c.JSON(http.StatusOK, resp)
		return
	}

	st, found, err := h.engine.Session(c.Request.Context(), sid)
	if err != nil {
		abortWithError(c, http.StatusServiceUnavailable, middleware.CodeSessionUnavailable)
		return
	}
	if found {
		resp.Authenticated = true
		resp.IdleExpiresAt = formatTime(st.IdleExpiresAt)
		resp.AbsoluteExpiresAt = formatTime(st.AbsoluteExpiresAt)
	}
	c.JSON(http.StatusOK, resp)
}

// Touch records activity and slides the idle expiry.
func (h *Handler) Touch(c *gin.Context) {
	var req touchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest)
		return
	}
	var extend time.Duration
	if req.ExtendSeconds != nil {
		if *req.ExtendSeconds <= 0 {
			abortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest)
			return
		}
		// Clamp before converting so large values cannot overflow the duration.
		extend = time.Duration(min(int64(*req.ExtendSeconds), h.maxExtend)) * time.Second
	}

	sid, ok := h.cookies.SessionID(c.Request)
	if !ok || !session.ValidSessionID(sid) {
		abortWithError(c, http.StatusUnauthorized, middleware.CodeAuthenticationRequired)
		return
	}

	out, err := h.engine.Touch(c.Request.Context(), sid, extend)
	if err != nil {
		abortWithError(c, http.StatusServiceUnavailable, middleware.CodeSessionUnavailable)
		return
	}
	if !out.Found {
		h.cookies.ExpireAll(c.Writer)
		abortWithError(c, http.StatusUnauthorized, middleware.CodeSessionExpired)
		return
	}

	c.JSON(http.StatusOK, touchResponse{
		Touched:           out.Touched,
		IdleExpiresAt:     formatTime(out.IdleExpiresAt),
		AbsoluteExpiresAt: formatTime(out.AbsoluteExpiresAt),
		RequestID:         requestID(c),
	})
}

// Clear destroys the session, expires every recognized cookie and redirects
// to returnTo. The cookies are expired even when the store is unreachable;
// the record then lapses through its TTL.
func (h *Handler) Clear(c *gin.Context) {
	if sid, ok := h.cookies.SessionID(c.Request); ok {
		if err := h.engine.Logout(c.Request.Context(), sid); err != nil {
			h.logger.Warn("goBFF: clearing session", "error", err, "request_id", requestID(c))
		}
	}
	h.cookies.ExpireAll(c.Writer)
	c.Redirect(http.StatusSeeOther, SafeReturnTo(c.Query("returnTo")))
}

// SafeReturnTo restricts a post-logout redirect to a same-site path. Anything
// that is not a single-slash absolute path, or that points back at the clear
// endpoint, becomes "/".
func SafeReturnTo(raw string) string {
	if raw == "" || raw[0] != '/' {
		return "/"
	}
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '\\') {
		return "/"
	}
	if strings.ContainsAny(raw, "\r\n\x00") {
		return "/"
	}
	path := raw
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.EqualFold(strings.TrimRight(path, "/"), clearPath) {
		return "/"
	}
	return raw
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}
