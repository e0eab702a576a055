package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF/session"
	"golang.org/x/oauth2"
)

const httpClientTimeout = 15 * time.Second

// ErrRefreshRejected is returned when the provider refuses the refresh token.
var ErrRefreshRejected = errors.New("refresh: provider rejected refresh token")

// OAuth2Config describes the provider's token endpoint and client credentials.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURL  string
	Scopes       []string
}

// OAuth2Client talks to an OAuth 2.0 token endpoint. It implements [Refresher].
type OAuth2Client struct {
	config *oauth2.Config
	http   *http.Client
}

// NewOAuth2Client returns a client for cfg. httpClient may be nil.
func NewOAuth2Client(cfg OAuth2Config, httpClient *http.Client) (*OAuth2Client, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errors.New("refresh: token url is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("refresh: client id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}
	return &OAuth2Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		http: httpClient,
	}, nil
}

// Refresh runs a refresh_token grant.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, ErrRefreshRejected
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	// An expired token with no access token forces the source to hit the endpoint.
	src := c.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return Tokens{}, classify(err)
	}
	return tokensFrom(tok), nil
}

// AuthCodeURL returns the provider login URL for a PKCE authorization-code flow.
func (c *OAuth2Client) AuthCodeURL(state, verifier string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for the initial token bundle.
func (c *OAuth2Client) Exchange(ctx context.Context, code, verifier string) (session.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.config.Exchange(ctx, code, opts...)
	if err != nil {
		return session.TokenSet{}, fmt.Errorf("failed to exchange code: %w", classify(err))
	}
	t := tokensFrom(tok)
	set := session.TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		IDToken:      t.IDToken,
	}
	if !t.ExpiresAt.IsZero() {
		set.ExpiresAt = t.ExpiresAt.UnixMilli()
	}
	return set, nil
}

func tokensFrom(tok *oauth2.Token) Tokens {
	out := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out
}

func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil &&
		(re.ErrorCode == "invalid_grant" || re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
		return errors.Join(ErrRefreshRejected, err)
	}
	return err
}
