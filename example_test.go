package goBFF_test

import (
	"context"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", MaxRetries: -1})

	cfg := goBFF.DefaultConfig()
	cfg.Crypto.Secret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	cfg.Security.CanonicalOrigin = "https://app.example.com"

	engine, _ := goBFF.New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	_ = engine
}

// ExampleEngine_Login stores the provider's tokens and returns the cookie value.
func ExampleEngine_Login() {
	var engine *goBFF.Engine
	sid, err := engine.Login(context.Background(), goBFF.TokenSet{
		AccessToken:  "provider-access-token",
		RefreshToken: "provider-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		_ = err
	}
	_ = sid
}

// ExampleEngine_AccessToken shows an upstream API call path: the bundle is
// refreshed first when the access token is about to expire.
func ExampleEngine_AccessToken() {
	var engine *goBFF.Engine
	token, ok, err := engine.AccessToken(context.Background(), "sid-from-cookie")
	switch {
	case err != nil:
		// session unavailable: respond 503
	case !ok:
		// no session: respond 401
	default:
		_ = token.AccessToken
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goBFF.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[goBFF.MetricSessionCreated]
}
