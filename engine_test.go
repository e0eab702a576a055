package goBFF

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goBFF/middleware"
	"github.com/MrEthical07/goBFF/refresh"
	"github.com/alicebob/miniredis/v2"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	return mr, client
}

type engineTest struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
}

func newTestEngine(t *testing.T, mutate func(*Config), configure ...func(*Builder)) engineTest {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := &testClock{now: time.UnixMilli(1700000000000)}

	cfg := validTestConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().WithConfig(cfg).WithRedis(rdb).WithClock(clock.Now)
	for _, fn := range configure {
		fn(b)
	}
	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engineTest{engine: engine, mr: mr, rdb: rdb, clock: clock}
}

func signedIDToken(t *testing.T, claims gjwt.MapClaims) string {
	t.Helper()
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("idp-signing-key"))
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return tok
}

func TestEngineLoginMintsFreshSessionAndFillsIdentity(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	planted := "plantedplantedplantedplanted"
	sid, err := et.engine.Login(ctx, TokenSet{
		SessionID:   planted,
		AccessToken: "at-1",
		IDToken:     signedIDToken(t, gjwt.MapClaims{"sub": "user-42", "email": "ada@example.com"}),
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sid == planted {
		t.Fatal("login must not adopt a caller-supplied session id")
	}

	status, ok, err := et.engine.Session(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("Session: ok=%v err=%v", ok, err)
	}
	if status.UserID != "user-42" || status.UserEmail != "ada@example.com" {
		t.Fatalf("identity not filled from id token: %+v", status)
	}
	if got := status.AbsoluteExpiresAt.Sub(status.CreatedAt); got != 8*time.Hour {
		t.Fatalf("expected 8h absolute lifetime, got %v", got)
	}
	if et.engine.MetricsSnapshot().Counters[MetricSessionCreated] != 1 {
		t.Fatal("expected session_created counter")
	}
}

func TestEngineLoginKeepsExplicitIdentityAndToleratesBadIDToken(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	sid, err := et.engine.Login(ctx, TokenSet{AccessToken: "at", IDToken: "not-a-jwt", UserID: "explicit"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	status, ok, err := et.engine.Session(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("Session: ok=%v err=%v", ok, err)
	}
	if status.UserID != "explicit" || status.UserEmail != "" {
		t.Fatalf("unexpected identity: %+v", status)
	}

	if _, err := et.engine.Login(ctx, TokenSet{}); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
}

func TestEngineSessionLifecycle(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	sid, err := et.engine.Login(ctx, TokenSet{AccessToken: "at"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Inside the throttle window an implicit touch writes nothing.
	out, err := et.engine.Touch(ctx, sid, 0)
	if err != nil || !out.Found || out.Touched {
		t.Fatalf("expected throttled touch, got %+v err=%v", out, err)
	}

	et.clock.Advance(5 * time.Minute)
	out, err = et.engine.Touch(ctx, sid, 0)
	if err != nil || !out.Touched {
		t.Fatalf("expected touch, got %+v err=%v", out, err)
	}
	if want := et.clock.Now().Add(30 * time.Minute); !out.IdleExpiresAt.Equal(want) {
		t.Fatalf("idle expiry %v, want %v", out.IdleExpiresAt, want)
	}

	if err := et.engine.Logout(ctx, sid); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := et.engine.Logout(ctx, sid); err != nil {
		t.Fatalf("second Logout must be a no-op, got %v", err)
	}
	if _, ok, err := et.engine.Session(ctx, sid); ok || err != nil {
		t.Fatalf("expected absent after logout, ok=%v err=%v", ok, err)
	}
	out, err = et.engine.Touch(ctx, sid, 0)
	if err != nil || out.Found {
		t.Fatalf("touch after logout: %+v err=%v", out, err)
	}

	snap := et.engine.MetricsSnapshot()
	if snap.Counters[MetricSessionTouched] != 1 || snap.Counters[MetricSessionTouchThrottled] != 1 {
		t.Fatalf("touch counters: %+v", snap.Counters)
	}
	if snap.Counters[MetricSessionDestroyed] != 2 {
		t.Fatalf("expected 2 destroy calls counted, got %d", snap.Counters[MetricSessionDestroyed])
	}
}

func TestEngineExpiredSessionIsEvicted(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	sid, err := et.engine.Login(ctx, TokenSet{AccessToken: "at"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	et.clock.Advance(31 * time.Minute)

	if _, ok, err := et.engine.Session(ctx, sid); ok || err != nil {
		t.Fatalf("expected idle-expired session to be absent, ok=%v err=%v", ok, err)
	}
	if et.mr.Exists("bff:s:" + sid) {
		t.Fatal("expired record should be deleted on read")
	}
	if et.engine.MetricsSnapshot().Counters[MetricSessionEvictedExpired] != 1 {
		t.Fatal("expected expired eviction counter")
	}
}

func TestEngineCorruptRecordIsEvicted(t *testing.T) {
	et := newTestEngine(t, nil)
	sid := "corruptcorruptcorruptcorrupt"
	if err := et.mr.Set("bff:s:"+sid, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok, err := et.engine.Token(context.Background(), sid); ok || err != nil {
		t.Fatalf("expected corrupt record to read as absent, ok=%v err=%v", ok, err)
	}
	if et.mr.Exists("bff:s:" + sid) {
		t.Fatal("corrupt record should be deleted")
	}
	if et.engine.MetricsSnapshot().Counters[MetricSessionEvictedCorrupt] != 1 {
		t.Fatal("expected corrupt eviction counter")
	}
}

func TestEngineResetRateReopensWindow(t *testing.T) {
	et := newTestEngine(t, func(c *Config) {
		c.RateLimit.Rules[ScopeAuth] = RateLimitRule{Limit: 1, Window: time.Minute}
	})
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if d, err := et.engine.Allow(ctx, ScopeAuth, ""); err != nil || !d.Allowed {
		t.Fatalf("first request: %+v err=%v", d, err)
	}
	if d, _ := et.engine.Allow(ctx, ScopeAuth, ""); d.Allowed {
		t.Fatal("second request should be denied")
	}
	if err := et.engine.ResetRate(ctx, ScopeAuth, ""); err != nil {
		t.Fatalf("ResetRate failed: %v", err)
	}
	if d, err := et.engine.Allow(ctx, ScopeAuth, ""); err != nil || !d.Allowed {
		t.Fatalf("expected allow after reset, got %+v err=%v", d, err)
	}
}

func TestEngineAllowFixedWindow(t *testing.T) {
	et := newTestEngine(t, func(c *Config) {
		c.RateLimit.Rules[ScopeTouch] = RateLimitRule{Limit: 2, Window: time.Minute}
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 2; i++ {
		d, err := et.engine.Allow(ctx, ScopeTouch, "")
		if err != nil || !d.Allowed || d.Err() != nil {
			t.Fatalf("request %d: %+v err=%v", i+1, d, err)
		}
	}
	d, err := et.engine.Allow(ctx, ScopeTouch, "")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected limit+1 to be denied, got %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", d.RetryAfter)
	}
	if !errors.Is(d.Err(), ErrRateLimited) {
		t.Fatalf("expected denied decision to report ErrRateLimited, got %v", d.Err())
	}

	// A different client has its own window.
	other := WithClientIP(context.Background(), "198.51.100.1")
	if d, err := et.engine.Allow(other, ScopeTouch, ""); err != nil || !d.Allowed {
		t.Fatalf("other client should be allowed: %+v err=%v", d, err)
	}

	et.mr.FastForward(61 * time.Second)
	if d, err := et.engine.Allow(ctx, ScopeTouch, ""); err != nil || !d.Allowed {
		t.Fatalf("expected reset after window, got %+v err=%v", d, err)
	}

	if et.engine.MetricsSnapshot().Counters[MetricRateLimitHit] != 1 {
		t.Fatal("expected one rate limit hit")
	}
}

func TestEngineAllowWithoutRule(t *testing.T) {
	et := newTestEngine(t, func(c *Config) {
		c.RateLimit.Enabled = false
	})
	for i := 0; i < 50; i++ {
		d, err := et.engine.Allow(context.Background(), ScopeTouch, "x")
		if err != nil || !d.Allowed {
			t.Fatalf("disabled limiter denied: %+v err=%v", d, err)
		}
	}
	if len(et.mr.Keys()) != 0 {
		t.Fatalf("disabled limiter must not write, keys=%v", et.mr.Keys())
	}
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (refresh.Tokens, error) {
	f.calls.Add(1)
	if f.err != nil {
		return refresh.Tokens{}, f.err
	}
	return refresh.Tokens{
		AccessToken: "at-fresh",
		ExpiresAt:   time.UnixMilli(1700000000000).Add(time.Hour),
	}, nil
}

func TestEngineAccessTokenRefreshesNearExpiry(t *testing.T) {
	rf := &fakeRefresher{}
	et := newTestEngine(t, nil, func(b *Builder) { b.WithRefresher(rf) })
	ctx := context.Background()

	sid, err := et.engine.Login(ctx, TokenSet{
		AccessToken:  "at-stale",
		RefreshToken: "rt",
		ExpiresAt:    et.clock.Now().Add(10 * time.Second).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	tok, ok, err := et.engine.AccessToken(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("AccessToken: ok=%v err=%v", ok, err)
	}
	if tok.AccessToken != "at-fresh" || tok.RefreshToken != "rt" {
		t.Fatalf("unexpected bundle: %+v", tok)
	}

	// Now fresh: no second upstream call.
	if _, _, err := et.engine.Decode(ctx, sid); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rf.calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", rf.calls.Load())
	}
	if et.engine.MetricsSnapshot().Counters[MetricRefreshSuccess] != 1 {
		t.Fatal("expected refresh success counter")
	}
}

func TestEngineAccessTokenFailureKeepsSession(t *testing.T) {
	rf := &fakeRefresher{err: refresh.ErrRefreshRejected}
	et := newTestEngine(t, nil, func(b *Builder) { b.WithRefresher(rf) })
	ctx := context.Background()

	sid, err := et.engine.Login(ctx, TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    et.clock.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, ok, err := et.engine.AccessToken(ctx, sid); !ok || err != nil {
		t.Fatalf("AccessToken: ok=%v err=%v", ok, err)
	}
	status, ok, err := et.engine.Session(ctx, sid)
	if err != nil || !ok || !status.RefreshFailed {
		t.Fatalf("expected session kept with refresh failure flag: %+v ok=%v err=%v", status, ok, err)
	}
	if et.engine.MetricsSnapshot().Counters[MetricRefreshFailure] != 1 {
		t.Fatal("expected refresh failure counter")
	}
}

func TestEngineWithoutRefresherReturnsStoredToken(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()
	sid, err := et.engine.Login(ctx, TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 1})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	tok, ok, err := et.engine.AccessToken(ctx, sid)
	if err != nil || !ok || tok.AccessToken != "at" {
		t.Fatalf("unexpected: %+v ok=%v err=%v", tok, ok, err)
	}
}

func TestEngineStoreDownIsNotAbsence(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()
	sid, err := et.engine.Login(ctx, TokenSet{AccessToken: "at"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	et.mr.Close()

	if _, _, err := et.engine.Session(ctx, sid); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := et.engine.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected Ping to fail with ErrStoreUnavailable, got %v", err)
	}
	if _, err := et.engine.Allow(ctx, ScopeStatus, "client"); !errors.Is(err, ErrRateLimitUnavailable) {
		t.Fatalf("expected ErrRateLimitUnavailable, got %v", err)
	}
	if et.engine.MetricsSnapshot().Counters[MetricStoreUnavailable] < 3 {
		t.Fatal("expected store failures counted")
	}
}

func TestEngineStoreStatsReflectsConnection(t *testing.T) {
	et := newTestEngine(t, nil)
	if _, err := et.engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	st := et.engine.StoreStats()
	if !st.Connected {
		t.Fatal("expected connected store")
	}
	if st.TotalConns < 1 {
		t.Fatalf("expected at least one pooled connection, got %+v", st)
	}
	if st.Reconnects != 0 {
		t.Fatalf("expected no reconnects, got %d", st.Reconnects)
	}

	et.engine.Close()
	if et.engine.StoreStats().Connected {
		t.Fatal("expected store reported down after Close")
	}
}

func TestEngineReportRejection(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	et.engine.ReportRejection(ctx, "/session/touch", middleware.ErrCrossOrigin)
	et.engine.ReportRejection(ctx, "/session/status", middleware.ErrUntrustedHost)
	et.engine.ReportRejection(ctx, "/", errors.New("other"))

	snap := et.engine.MetricsSnapshot()
	if snap.Counters[MetricCSRFRejected] != 1 || snap.Counters[MetricUntrustedHost] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestEngineOAuthHelpersRequireProvider(t *testing.T) {
	et := newTestEngine(t, nil)
	if _, err := et.engine.AuthCodeURL("state", "verifier"); !errors.Is(err, ErrOAuthDisabled) {
		t.Fatalf("expected ErrOAuthDisabled, got %v", err)
	}
	if _, err := et.engine.LoginWithCode(context.Background(), "code", "verifier"); !errors.Is(err, ErrOAuthDisabled) {
		t.Fatalf("expected ErrOAuthDisabled, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().WithConfig(validTestConfig()).WithRedis(rdb)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected default config without secret to fail")
	}
}

func TestNilEngineMethods(t *testing.T) {
	var e *Engine
	ctx := context.Background()
	if _, err := e.Login(ctx, TokenSet{AccessToken: "at"}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := e.Session(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Session: %v", err)
	}
	if err := e.Logout(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Logout: %v", err)
	}
	if e.AuditDropped() != 0 || e.AuditDelivered() != 0 {
		t.Fatal("audit counters on nil engine")
	}
	if e.StoreStats() != (StoreStats{}) {
		t.Fatal("StoreStats on nil engine")
	}
	e.Close()
}
