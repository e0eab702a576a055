package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequests struct {
	mu   sync.Mutex
	last url.Values
}

func (r *tokenRequests) Get(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Get(key)
}

func newProvider(t *testing.T) (*httptest.Server, *tokenRequests) {
	t.Helper()

	seen := &tokenRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen.mu.Lock()
		seen.last = r.PostForm
		seen.mu.Unlock()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-from-code","refresh_token":"rt-from-code","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newLoginSurface(t *testing.T) (surface, *tokenRequests) {
	t.Helper()
	provider, form := newProvider(t)
	s := newSurface(t, func(c *goBFF.Config) {
		c.Refresh.ClientID = "bff-client"
		c.Refresh.ClientSecret = "bff-secret"
		c.Refresh.AuthURL = provider.URL + "/authorize"
		c.Refresh.TokenURL = provider.URL + "/token"
		c.Refresh.RedirectURL = testOrigin + callbackPath
	}, WithLoginFlow())
	return s, form
}

func pkceCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "bff_session"+pkceCookieSuffix {
			return c
		}
	}
	t.Fatal("pkce cookie not set")
	return nil
}

func TestLoginRedirectsWithPKCE(t *testing.T) {
	s, _ := newLoginSurface(t)

	w := s.do(newRequest(http.MethodGet, loginPath, ""))

	require.Equal(t, http.StatusFound, w.Code)
	target, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	q := target.Query()
	assert.Equal(t, "/authorize", target.Path)
	assert.Equal(t, "bff-client", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	c := pkceCookie(t, w)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, callbackPath, c.Path)
	state, _, ok := strings.Cut(c.Value, ".")
	require.True(t, ok)
	assert.Equal(t, state, q.Get("state"))
}

func TestCallbackStartsSession(t *testing.T) {
	s, form := newLoginSurface(t)

	login := s.do(newRequest(http.MethodGet, loginPath, ""))
	pkce := pkceCookie(t, login)
	state, verifier, _ := strings.Cut(pkce.Value, ".")

	req := newRequest(http.MethodGet, callbackPath+"?code=good-code&state="+state, "")
	req.AddCookie(&http.Cookie{Name: pkce.Name, Value: pkce.Value})
	w := s.do(req)

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, verifier, form.Get("code_verifier"))

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	sid := sessionCookie.Value

	st, ok, err := s.engine.Session(context.Background(), sid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, sessionCookie.Expires.Equal(st.AbsoluteExpiresAt), "cookie %v, record %v", sessionCookie.Expires, st.AbsoluteExpiresAt)
	assert.True(t, sessionCookie.Expires.Equal(time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)))

	token, ok, err := s.engine.Token(context.Background(), sid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at-from-code", token.AccessToken)
	assert.Equal(t, "rt-from-code", token.RefreshToken)
	assert.False(t, s.mr.Exists("bff:rl:auth:192.0.2.1"), "auth counter cleared after login")
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	s, _ := newLoginSurface(t)

	login := s.do(newRequest(http.MethodGet, loginPath, ""))
	pkce := pkceCookie(t, login)

	req := newRequest(http.MethodGet, callbackPath+"?code=good-code&state=forged", "")
	req.AddCookie(&http.Cookie{Name: pkce.Name, Value: pkce.Value})
	w := s.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, middleware.CodeInvalidRequest, decode[middleware.ErrorBody](t, w).Error)

	w = s.do(newRequest(http.MethodGet, callbackPath+"?code=good-code&state=x", ""))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackProviderRejection(t *testing.T) {
	s, _ := newLoginSurface(t)

	login := s.do(newRequest(http.MethodGet, loginPath, ""))
	pkce := pkceCookie(t, login)
	state, _, _ := strings.Cut(pkce.Value, ".")

	req := newRequest(http.MethodGet, callbackPath+"?code=bad-code&state="+state, "")
	req.AddCookie(&http.Cookie{Name: pkce.Name, Value: pkce.Value})
	w := s.do(req)

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, CodeLoginFailed, decode[middleware.ErrorBody](t, w).Error)
}

func TestLoginWithoutOAuthClient(t *testing.T) {
	s := newSurface(t, nil, WithLoginFlow())

	w := s.do(newRequest(http.MethodGet, loginPath, ""))
	require.Equal(t, http.StatusNotFound, w.Code)
}
