package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	loginPath    = "/auth/login"
	callbackPath = "/auth/callback"

	pkceCookieSuffix = "_pkce"
	pkceTTL          = 10 * time.Minute

	// CodeLoginFailed is written when the provider rejects the code exchange.
	CodeLoginFailed = "LOGIN_FAILED"
)

// Login starts the authorization-code flow. The state and PKCE verifier are
// kept in a short-lived HttpOnly cookie scoped to the callback path.
func (h *Handler) Login(c *gin.Context) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	target, err := h.engine.AuthCodeURL(state, verifier)
	if err != nil {
		if errors.Is(err, goBFF.ErrOAuthDisabled) {
			abortWithError(c, http.StatusNotFound, middleware.CodeInvalidRequest)
			return
		}
		abortWithError(c, http.StatusServiceUnavailable, middleware.CodeSessionUnavailable)
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.pkceCookieName(),
		Value:    state + "." + verifier,
		Path:     callbackPath,
		MaxAge:   int(pkceTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, target)
}

// Callback completes the flow: it checks state, exchanges the code and sets
// the session cookie.
func (h *Handler) Callback(c *gin.Context) {
	name := h.pkceCookieName()
	raw, err := c.Cookie(name)
	h.expirePKCE(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest)
		return
	}
	state, verifier, ok := strings.Cut(raw, ".")
	if !ok || state == "" || verifier == "" || c.Query("state") != state || c.Query("code") == "" {
		abortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest)
		return
	}

	st, err := h.engine.LoginWithCode(c.Request.Context(), c.Query("code"), verifier)
	switch {
	case err == nil:
	case errors.Is(err, goBFF.ErrStoreUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, middleware.CodeSessionUnavailable)
		return
	case errors.Is(err, goBFF.ErrOAuthDisabled):
		abortWithError(c, http.StatusNotFound, middleware.CodeInvalidRequest)
		return
	default:
		h.logger.Warn("goBFF: code exchange failed", "error", err, "request_id", requestID(c))
		abortWithError(c, http.StatusBadGateway, CodeLoginFailed)
		return
	}

	if err := h.engine.ResetRate(c.Request.Context(), goBFF.ScopeAuth, ""); err != nil {
		h.logger.Warn("goBFF: auth rate counter not cleared", "error", err, "request_id", requestID(c))
	}
	h.cookies.Set(c.Writer, st.SessionID, st.AbsoluteExpiresAt)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) pkceCookieName() string {
	return h.engine.Config().Cookie.Name + pkceCookieSuffix
}

func (h *Handler) expirePKCE(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.pkceCookieName(),
		Value:    "",
		Path:     callbackPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
