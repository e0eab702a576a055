package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when the input is not a decodable JWT.
var ErrMalformedToken = errors.New("malformed id token")

// ErrClaimMismatch is returned when a configured issuer or audience does not match.
var ErrClaimMismatch = errors.New("id token claim mismatch")

// Config narrows which tokens are accepted. Empty fields are not checked.
type Config struct {
	Issuer   string
	Audience string
}

// IDClaims is the claim set read from an OpenID Connect ID token.
type IDClaims struct {
	Email             string           `json:"email,omitempty"`
	EmailVerified     bool             `json:"email_verified,omitempty"`
	Name              string           `json:"name,omitempty"`
	PreferredUsername string           `json:"preferred_username,omitempty"`
	AuthTime          *jwt.NumericDate `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the subset of ID-token claims copied onto a session.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	Issuer    string
	AuthTime  time.Time
	ExpiresAt time.Time
}

// Reader extracts identities from ID tokens. It is immutable and safe for
// concurrent use.
type Reader struct {
	config Config
	parser *jwt.Parser
}

// NewReader returns a Reader enforcing cfg.
func NewReader(cfg Config) *Reader {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Reader{
		config: cfg,
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

// Claims decodes the raw claim set of token without verifying its signature.
func (r *Reader) Claims(token string) (*IDClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}

	claims := &IDClaims{}
	if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	if r.config.Issuer != "" && claims.Issuer != r.config.Issuer {
		return nil, ErrClaimMismatch
	}
	if r.config.Audience != "" && !hasAudience(claims.Audience, r.config.Audience) {
		return nil, ErrClaimMismatch
	}
	return claims, nil
}

// Identity decodes token and returns its identity fields. A token without a
// subject is malformed.
func (r *Reader) Identity(token string) (Identity, error) {
	claims, err := r.Claims(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.Join(ErrMalformedToken, errors.New("missing sub claim"))
	}

	id := Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Issuer:  claims.Issuer,
	}
	if id.Name == "" {
		id.Name = claims.PreferredUsername
	}
	if claims.AuthTime != nil {
		id.AuthTime = claims.AuthTime.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
