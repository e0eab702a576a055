package goBFF

import (
	"context"
	"time"

	"github.com/MrEthical07/goBFF/session"
)

// Login stores a freshly issued token bundle and returns the new session id
// for the cookie. A new id is always minted, so an id planted before login
// can never become authenticated.
//
// When UserID or UserEmail are empty they are filled from the ID token's
// claims. Those fields are for observability only and an unreadable ID token
// does not fail the login.
//
//	Performance: 1-2 Redis commands
//	Docs: docs/session.md
func (e *Engine) Login(ctx context.Context, token TokenSet) (string, error) {
	st, err := e.StartSession(ctx, token)
	if err != nil {
		return "", err
	}
	return st.SessionID, nil
}

// StartSession is [Engine.Login] returning the stored lifetimes, so the
// session cookie can expire together with the record.
func (e *Engine) StartSession(ctx context.Context, token TokenSet) (SessionStatus, error) {
	if e == nil {
		return SessionStatus{}, ErrEngineNotReady
	}
	if token.AccessToken == "" {
		return SessionStatus{}, ErrInvalidLogin
	}

	token.SessionID = ""
	token.CreatedAtMs = 0
	token.AbsoluteExpiresAtMs = 0
	token.Error = ""

	if token.IDToken != "" && (token.UserID == "" || token.UserEmail == "") {
		id, err := e.identity.Identity(token.IDToken)
		if err != nil {
			e.logger.Debug("goBFF: id token claims unavailable", "error", err)
		} else {
			if token.UserID == "" {
				token.UserID = id.Subject
			}
			if token.UserEmail == "" {
				token.UserEmail = id.Email
			}
		}
	}

	view, err := e.sessions.Save(ctx, token)
	if err != nil {
		e.storeFailure(ctx, err)
		return SessionStatus{}, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, token.UserID, view.SessionID, "", nil)
	return statusOf(view), nil
}

// AuthCodeURL returns the provider's authorization URL for state with a PKCE
// S256 challenge derived from verifier.
func (e *Engine) AuthCodeURL(state, verifier string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return e.oauth.AuthCodeURL(state, verifier), nil
}

// LoginWithCode exchanges an authorization code and starts a session with the
// resulting tokens.
//
//	Performance: 1 provider round trip + 1-2 Redis commands
func (e *Engine) LoginWithCode(ctx context.Context, code, verifier string) (SessionStatus, error) {
	if e == nil {
		return SessionStatus{}, ErrEngineNotReady
	}
	if e.oauth == nil {
		return SessionStatus{}, ErrOAuthDisabled
	}
	token, err := e.oauth.Exchange(ctx, code, verifier)
	if err != nil {
		return SessionStatus{}, err
	}
	return e.StartSession(ctx, token)
}

// Session returns the browser-safe status of sid. ok is false when the
// session does not exist, has expired or was unreadable.
//
//	Performance: 1 Redis command (2 when a bad record is evicted)
func (e *Engine) Session(ctx context.Context, sid string) (SessionStatus, bool, error) {
	if e == nil {
		return SessionStatus{}, false, ErrEngineNotReady
	}

	start := time.Now()
	view, ok, err := e.sessions.Read(ctx, sid)
	e.metricObserve(MetricSessionReadLatency, start)
	if err != nil {
		e.storeFailure(ctx, err)
		return SessionStatus{}, false, err
	}
	if !ok {
		e.metricInc(MetricSessionMissing)
		return SessionStatus{}, false, nil
	}

	return statusOf(view), true, nil
}

func statusOf(view session.View) SessionStatus {
	return SessionStatus{
		SessionID:         view.SessionID,
		UserID:            view.Token.UserID,
		UserEmail:         view.Token.UserEmail,
		CreatedAt:         view.CreatedAt,
		LastSeenAt:        view.LastSeenAt,
		IdleExpiresAt:     view.IdleExpiresAt,
		AbsoluteExpiresAt: view.AbsoluteExpiresAt,
		RefreshFailed:     view.Token.Error == session.RefreshErrorFlag,
	}
}

// Token returns the stored token bundle for sid without refreshing it.
func (e *Engine) Token(ctx context.Context, sid string) (TokenSet, bool, error) {
	if e == nil {
		return TokenSet{}, false, ErrEngineNotReady
	}
	token, ok, err := e.sessions.Decode(ctx, sid)
	if err != nil {
		e.storeFailure(ctx, err)
		return TokenSet{}, false, err
	}
	if !ok {
		e.metricInc(MetricSessionMissing)
	}
	return token, ok, nil
}

// AccessToken returns the token bundle for sid, refreshing the access token
// first when it is close to expiry. Concurrent callers for the same session
// share one upstream refresh. Without refresh configured it behaves like
// [Engine.Token].
//
//	Docs: docs/refresh.md
func (e *Engine) AccessToken(ctx context.Context, sid string) (TokenSet, bool, error) {
	if e == nil {
		return TokenSet{}, false, ErrEngineNotReady
	}
	if e.coordinator == nil {
		return e.Token(ctx, sid)
	}
	token, ok, err := e.coordinator.Ensure(ctx, sid)
	if err != nil {
		e.storeFailure(ctx, err)
		return TokenSet{}, false, err
	}
	if !ok {
		e.metricInc(MetricSessionMissing)
	}
	return token, ok, nil
}

// Decode is [Engine.AccessToken] under the name middleware.RequireSession
// expects from its resolver.
func (e *Engine) Decode(ctx context.Context, sid string) (TokenSet, bool, error) {
	return e.AccessToken(ctx, sid)
}

// Touch records activity on sid and slides its idle expiry. extend > 0 asks
// for that much idle time (capped by MaxTouchExtension) and bypasses the
// touch throttle; zero uses IdleTimeout. The idle expiry never moves past
// the absolute expiry.
//
//	Performance: 1 Redis command when throttled, 2 otherwise
func (e *Engine) Touch(ctx context.Context, sid string, extend time.Duration) (TouchOutcome, error) {
	if e == nil {
		return TouchOutcome{}, ErrEngineNotReady
	}

	res, err := e.sessions.Touch(ctx, sid, extend)
	if err != nil {
		e.storeFailure(ctx, err)
		return TouchOutcome{}, err
	}
	if res.Token == nil {
		e.metricInc(MetricSessionMissing)
		return TouchOutcome{}, nil
	}

	if res.Touched {
		e.metricInc(MetricSessionTouched)
		e.emitAudit(ctx, auditEventSessionTouched, true, res.Token.UserID, sid, "", nil)
	} else {
		e.metricInc(MetricSessionTouchThrottled)
	}

	return TouchOutcome{
		Found:             true,
		Touched:           res.Touched,
		IdleExpiresAt:     res.IdleExpiresAt,
		AbsoluteExpiresAt: res.AbsoluteExpiresAt,
	}, nil
}

// Logout destroys sid. It is idempotent.
//
//	Performance: 1 Redis command
func (e *Engine) Logout(ctx context.Context, sid string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Destroy(ctx, sid); err != nil {
		e.storeFailure(ctx, err)
		return err
	}
	if session.ValidSessionID(sid) {
		e.metricInc(MetricSessionDestroyed)
		e.emitAudit(ctx, auditEventSessionDestroyed, true, "", sid, "", nil)
	}
	return nil
}
