package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/middleware"
)

const (
	hostPrefix   = "__Host-"
	securePrefix = "__Secure-"
)

// Cookies implements the session cookie contract.
type Cookies struct {
	name   string
	secure bool
	names  []string
}

// NewCookies derives the cookie contract from cfg and the canonical origin.
// On https the cookie is Secure and named with the __Host- prefix; on plain
// http it is the bare name.
func NewCookies(cfg goBFF.CookieConfig, canonical *url.URL) Cookies {
	secure := canonical != nil && canonical.Scheme == "https"
	name := cfg.Name
	if secure {
		name = hostPrefix + cfg.Name
	}

	names := []string{name}
	seen := map[string]bool{name: true}
	for _, n := range append([]string{cfg.Name, hostPrefix + cfg.Name, securePrefix + cfg.Name}, cfg.LegacyNames...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}

	return Cookies{name: name, secure: secure, names: names}
}

// Name is the cookie name new sessions are written under.
func (c Cookies) Name() string { return c.name }

// Names lists every name recognized on read and expired on clear, the
// current name first.
func (c Cookies) Names() []string { return append([]string(nil), c.names...) }

// SessionID returns the first non-empty recognized session cookie.
func (c Cookies) SessionID(r *http.Request) (string, bool) {
	return middleware.SessionCookie(r, c.names)
}

// Set writes the session cookie. It expires with the session's absolute
// lifetime.
func (c Cookies) Set(w http.ResponseWriter, sid string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    sid,
		Path:     "/",
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ExpireAll expires every recognized name.
func (c Cookies) ExpireAll(w http.ResponseWriter) {
	for _, name := range c.names {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
			HttpOnly: true,
			// Browsers refuse prefixed cookies without Secure, even when expiring them.
			Secure:   c.secure || hasSecurityPrefix(name),
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func hasSecurityPrefix(name string) bool {
	return strings.HasPrefix(name, hostPrefix) || strings.HasPrefix(name, securePrefix)
}
