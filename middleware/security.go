package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-Id"

var (
	// ErrUntrustedHost is returned when the effective request host is not the
	// canonical one.
	ErrUntrustedHost = errors.New("untrusted host")
	// ErrCrossOrigin is returned when a request's Origin or Referer does not
	// match the canonical origin, or neither is present.
	ErrCrossOrigin = errors.New("cross-origin request rejected")
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

// CheckTrustedHost compares the request's effective host (first
// X-Forwarded-Host value, else Host) with canonical, ignoring case.
func CheckTrustedHost(r *http.Request, canonical *url.URL) error {
	if canonical == nil || canonical.Host == "" {
		return ErrUntrustedHost
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		host = strings.TrimSpace(first)
	}
	if host == "" {
		return ErrUntrustedHost
	}
	if normalizeHost(host, canonical.Scheme) != normalizeHost(canonical.Host, canonical.Scheme) {
		return ErrUntrustedHost
	}
	return nil
}

// CheckSameOrigin requires the Origin header, or failing that the origin of
// the Referer, to equal canonicalOrigin exactly.
func CheckSameOrigin(r *http.Request, canonicalOrigin string) error {
	want := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(canonicalOrigin)), "/")
	if want == "" {
		return ErrCrossOrigin
	}

	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		ref := strings.TrimSpace(r.Header.Get("Referer"))
		if ref == "" {
			return ErrCrossOrigin
		}
		origin = originOf(ref)
	}
	if origin == "" || strings.ToLower(origin) != want {
		return ErrCrossOrigin
	}
	return nil
}

// CheckNavigation guards safe-method requests that still change state, such
// as a logout link. It rejects requests the browser marks as coming from
// another site (Sec-Fetch-Site cross-site or same-site) and requests with an
// Origin other than canonicalOrigin. Requests with neither header pass, since
// older browsers send none on top-level navigation.
func CheckNavigation(r *http.Request, canonicalOrigin string) error {
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Site"))) {
	case "cross-site", "same-site":
		return ErrCrossOrigin
	}
	if strings.TrimSpace(r.Header.Get("Origin")) == "" {
		return nil
	}
	return CheckSameOrigin(r, canonicalOrigin)
}

// RequestID returns the caller's X-Request-Id when it is well formed, else a
// fresh random id.
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); requestIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// StateChanging reports whether method may mutate server state.
func StateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// Origin returns the scheme://host origin of u.
func Origin(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return Origin(u)
}

func normalizeHost(host, scheme string) string {
	host = strings.ToLower(host)
	switch scheme {
	case "https":
		host = strings.TrimSuffix(host, ":443")
	case "http":
		host = strings.TrimSuffix(host, ":80")
	}
	return host
}
