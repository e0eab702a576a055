package jwt

import (
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func signIDToken(t *testing.T, claims IDClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("provider-key-provider-key-provider-key"))
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return s
}

func TestIdentityExtractsClaims(t *testing.T) {
	authTime := time.Unix(1700000000, 0)
	token := signIDToken(t, IDClaims{
		Email:             "jane@example.com",
		PreferredUsername: "jane",
		AuthTime:          gjwt.NewNumericDate(authTime),
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "https://idp.example.com",
			Audience:  gjwt.ClaimStrings{"bff"},
			ExpiresAt: gjwt.NewNumericDate(authTime.Add(time.Hour)),
		},
	})

	r := NewReader(Config{Issuer: "https://idp.example.com", Audience: "bff"})
	id, err := r.Identity(token)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Subject != "user-42" || id.Email != "jane@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.Name != "jane" {
		t.Fatalf("expected preferred_username fallback, got %q", id.Name)
	}
	if !id.AuthTime.Equal(authTime) || !id.ExpiresAt.Equal(authTime.Add(time.Hour)) {
		t.Fatalf("unexpected times: %+v", id)
	}
}

func TestIdentityIgnoresExpiry(t *testing.T) {
	token := signIDToken(t, IDClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	if _, err := NewReader(Config{}).Identity(token); err != nil {
		t.Fatalf("expired id token should still yield identity fields: %v", err)
	}
}

func TestIdentityRejectsMismatchedIssuerAndAudience(t *testing.T) {
	token := signIDToken(t, IDClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:  "user-1",
		Issuer:   "https://evil.example.com",
		Audience: gjwt.ClaimStrings{"other"},
	}})

	if _, err := NewReader(Config{Issuer: "https://idp.example.com"}).Identity(token); !errors.Is(err, ErrClaimMismatch) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
	if _, err := NewReader(Config{Audience: "bff"}).Identity(token); !errors.Is(err, ErrClaimMismatch) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestIdentityRejectsMalformedInput(t *testing.T) {
	r := NewReader(Config{})
	for _, in := range []string{"", "   ", "not.a.jwt", "a.b", "eyJhbGciOiJub25lIn0.bm90LWpzb24."} {
		if _, err := r.Identity(in); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("input %q: expected ErrMalformedToken, got %v", in, err)
		}
	}

	noSub := signIDToken(t, IDClaims{Email: "x@example.com"})
	if _, err := r.Identity(noSub); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected missing sub to be rejected, got %v", err)
	}
}
