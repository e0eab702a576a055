package goBFF

import (
	"context"
	"strings"
)

// Allow counts one request for identifier against the rule configured for
// scope. An empty identifier falls back to the client IP from
// [WithClientIP]. Scopes without a rule, and engines with rate limiting
// disabled, always allow.
//
// Store failures are returned as errors; the decision is left to the caller.
//
//	Performance: 1 Redis command (one Lua script)
//	Docs: docs/rate_limiting.md
func (e *Engine) Allow(ctx context.Context, scope, identifier string) (RateDecision, error) {
	if e == nil {
		return RateDecision{}, ErrEngineNotReady
	}
	if !e.config.RateLimit.Enabled {
		return RateDecision{Allowed: true}, nil
	}
	rule, ok := e.config.RateLimit.Rules[scope]
	if !ok {
		return RateDecision{Allowed: true}, nil
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		identifier = clientIPFromContext(ctx)
	}
	if identifier == "" {
		identifier = "unknown"
	}

	res, err := e.rateLimiter.Consume(ctx, e.rateLimiter.Key(scope, identifier), rule.Limit, rule.Window)
	if err != nil {
		e.storeFailure(ctx, err)
		return RateDecision{}, err
	}

	decision := RateDecision{
		Allowed:   res.Allowed,
		Limit:     res.Limit,
		Remaining: res.Remaining,
	}
	if !res.Allowed {
		decision.RetryAfter = res.Reset
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimited, false, "", "", auditErrRateLimited, map[string]string{"scope": scope})
	}
	return decision, nil
}

// ResetRate clears the counter for identifier in scope, for example after a
// successful login. Engines with rate limiting disabled do nothing.
//
//	Performance: 1 Redis command
func (e *Engine) ResetRate(ctx context.Context, scope, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.RateLimit.Enabled {
		return nil
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		identifier = clientIPFromContext(ctx)
	}
	if identifier == "" {
		return nil
	}
	if err := e.rateLimiter.Reset(ctx, e.rateLimiter.Key(scope, identifier)); err != nil {
		e.storeFailure(ctx, err)
		return err
	}
	return nil
}
