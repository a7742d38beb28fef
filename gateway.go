package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lockplex/authgate/internal"
	"github.com/lockplex/authgate/internal/audit"
	"github.com/lockplex/authgate/internal/metrics"
	"github.com/lockplex/authgate/rememberme"
	"github.com/lockplex/authgate/requestcache"
	"github.com/lockplex/authgate/session"
)

// Gateway is the authentication decision engine. It owns no transport:
// callers feed it a [Request] and execute the returned [Decision]. All
// methods are safe for concurrent use.
type Gateway struct {
	config   Config
	log      zerolog.Logger
	provider AccountProvider
	verifier *credentialVerifier
	sessions *session.Registry
	requests requestcache.Cache
	remember *rememberme.Issuer
	audit    *audit.Dispatcher
	metrics  *metrics.Metrics
	public   *routeSet

	memStore *session.MemoryStore
	memCache *requestcache.MemoryCache
}

// Authenticate evaluates a plain resource request. It resolves the
// presented tokens, applies auto-login from a remember-me token when the
// session is gone, and either admits the request or challenges it with a
// redirect to the login page.
func (g *Gateway) Authenticate(ctx context.Context, req Request) (Decision, error) {
	path := req.Path
	if path == "" {
		path = "/"
	}

	var clearSession, clearRemember bool

	if req.SessionToken != "" {
		sess, err := g.sessions.Validate(ctx, req.SessionToken)
		switch {
		case err == nil:
			return Decision{State: StateAuthenticated, AccountID: sess.AccountID}, nil
		case errors.Is(err, session.ErrExpired):
			g.metrics.Inc(MetricSessionExpired)
			g.emitAudit(ctx, EventSessionExpired, "", req.SessionToken, false, err.Error(), nil)
			clearSession = true
		case errors.Is(err, session.ErrNotFound):
			clearSession = true
		default:
			return Decision{}, mapStoreErr(err)
		}
	}

	if g.remember != nil && req.RememberToken != "" {
		decision, handled, err := g.autoLogin(ctx, req, path)
		if handled || err != nil {
			return decision, err
		}
		clearRemember = true
	}

	if g.isPublic(path) {
		return Decision{
			State:         StateAnonymous,
			ClearSession:  clearSession,
			ClearRemember: clearRemember,
		}, nil
	}

	return g.challenge(ctx, path, clearSession, clearRemember)
}

// autoLogin exchanges a remember-me token for a fresh session. handled is
// false when the token was invalid and evaluation should continue as
// anonymous with the cookie cleared.
func (g *Gateway) autoLogin(ctx context.Context, req Request, path string) (Decision, bool, error) {
	accountID, series, nextToken, err := g.remember.Validate(ctx, req.RememberToken)
	switch {
	case err == nil:
		// rotated below
	case errors.Is(err, rememberme.ErrTokenReuse):
		g.handleRememberReuse(ctx, accountID, series)
		decision, chErr := g.challenge(ctx, path, true, true)
		return decision, true, chErr
	case errors.Is(err, rememberme.ErrTokenInvalid), errors.Is(err, rememberme.ErrSeriesCorrupt):
		g.metrics.Inc(MetricRememberInvalid)
		g.emitAudit(ctx, EventRememberInvalid, "", "", false, err.Error(), nil)
		return Decision{}, false, nil
	default:
		return Decision{}, true, mapStoreErr(err)
	}

	sess, evicted, err := g.sessions.Register(ctx, accountID, series)
	if err != nil {
		if errors.Is(err, session.ErrLimitExceeded) {
			g.metrics.Inc(MetricSessionLimitRejected)
			g.emitAudit(ctx, EventLoginLimitRejected, accountID, "", false, err.Error(),
				map[string]string{"via": "remember_me"})

			// The token already rotated; the client must receive the
			// replacement or its next attempt trips reuse detection.
			decision, chErr := g.challenge(ctx, path, true, false)
			decision.RememberToken = nextToken
			decision.RedirectTo = g.config.Routes.LoginPath + "?error=limit"
			return decision, true, chErr
		}
		return Decision{}, true, mapStoreErr(err)
	}
	g.reportEvictions(ctx, accountID, evicted)

	g.metrics.Inc(MetricRememberUsed)
	g.metrics.Inc(MetricSessionCreated)
	g.emitAudit(ctx, EventRememberUsed, accountID, sess.Token, true, "",
		map[string]string{"series": series})

	return Decision{
		State:         StateAuthenticated,
		AccountID:     accountID,
		SessionToken:  sess.Token,
		RememberToken: nextToken,
	}, true, nil
}

// handleRememberReuse treats a replayed token as account compromise: the
// series is already revoked by the issuer, and every session of the
// account is terminated here.
func (g *Gateway) handleRememberReuse(ctx context.Context, accountID, series string) {
	g.metrics.Inc(MetricRememberReuseDetected)
	g.log.Warn().
		Str("account_id", accountID).
		Str("series", series).
		Msg("remember-me token reuse detected, revoking all sessions")

	revoked, err := g.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		g.log.Error().Err(err).Str("account_id", accountID).Msg("revoke-all after reuse failed")
	}
	if _, err := g.remember.RevokeAllForAccount(ctx, accountID); err != nil {
		g.log.Error().Err(err).Str("account_id", accountID).Msg("series revoke-all after reuse failed")
	}

	g.metrics.Inc(MetricLogoutAll)
	g.emitAudit(ctx, EventRememberReuse, accountID, "", false, ErrRememberMeReuse.Error(),
		map[string]string{"series": series, "sessions_revoked": fmt.Sprintf("%d", len(revoked))})
}

// challenge parks the requested path and redirects to the login page.
func (g *Gateway) challenge(ctx context.Context, path string, clearSession, clearRemember bool) (Decision, error) {
	preAuth, err := internal.NewToken()
	if err != nil {
		return Decision{}, err
	}

	if err := g.requests.Remember(ctx, preAuth.String(), path, g.config.RequestCache.TTL); err != nil {
		return Decision{}, mapStoreErr(err)
	}

	g.metrics.Inc(MetricChallengeIssued)
	g.emitAudit(ctx, EventChallengeIssued, "", "", true, "", map[string]string{"target": path})

	return Decision{
		State:         StateChallenged,
		RedirectTo:    g.config.Routes.LoginPath,
		PreAuthToken:  preAuth.String(),
		ClearSession:  clearSession,
		ClearRemember: clearRemember,
	}, nil
}

// Login verifies the submitted credentials and, on success, opens a
// session and redirects to the originally requested page. Failed logins
// return a Decision redirecting back to the login page alongside the
// error.
func (g *Gateway) Login(ctx context.Context, req Request, username, pass string, rememberRequested bool) (Decision, error) {
	record, meta, err := g.verifier.verify(ctx, username, pass)
	if err != nil {
		return g.failLogin(ctx, username, meta, err)
	}
	g.reportUpgrade(ctx, record.AccountID, meta)

	var rememberToken, series string
	if rememberRequested && g.remember != nil {
		rememberToken, series, err = g.remember.Issue(ctx, record.AccountID)
		if err != nil {
			return Decision{}, mapStoreErr(err)
		}
	}

	sess, evicted, err := g.sessions.Register(ctx, record.AccountID, series)
	if err != nil {
		g.discardSeries(series)
		if errors.Is(err, session.ErrLimitExceeded) {
			g.metrics.Inc(MetricSessionLimitRejected)
			g.emitAudit(ctx, EventLoginLimitRejected, record.AccountID, "", false, err.Error(), nil)
			return Decision{
				State:      StateAnonymous,
				RedirectTo: g.config.Routes.LoginPath + "?error=limit",
			}, ErrSessionLimitExceeded
		}
		return Decision{}, mapStoreErr(err)
	}
	g.reportEvictions(ctx, record.AccountID, evicted)

	// The caller walked away mid-login; undo the registration so no
	// session outlives a response nobody received.
	if ctx.Err() != nil {
		g.rollbackLogin(sess.Token, series)
		return Decision{}, ctx.Err()
	}

	target := g.config.RequestCache.DefaultTarget
	if req.PreAuthToken != "" {
		saved, recallErr := g.requests.Recall(ctx, req.PreAuthToken)
		switch {
		case recallErr == nil:
			target = saved
			g.metrics.Inc(MetricRequestCacheHit)
		case errors.Is(recallErr, requestcache.ErrNotFound):
			// expired or already consumed, fall through to the default
		default:
			g.log.Warn().Err(recallErr).Msg("request cache recall failed")
		}
	}

	g.metrics.Inc(MetricLoginSuccess)
	g.metrics.Inc(MetricSessionCreated)
	if rememberToken != "" {
		g.metrics.Inc(MetricRememberIssued)
		g.emitAudit(ctx, EventRememberIssued, record.AccountID, sess.Token, true, "",
			map[string]string{"series": series})
	}
	g.emitAudit(ctx, EventLoginSuccess, record.AccountID, sess.Token, true, "",
		map[string]string{"username": username})

	return Decision{
		State:         StateAuthenticated,
		AccountID:     record.AccountID,
		SessionToken:  sess.Token,
		RememberToken: rememberToken,
		RedirectTo:    target,
	}, nil
}

func (g *Gateway) failLogin(ctx context.Context, username string, meta verifyMeta, err error) (Decision, error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		g.metrics.Inc(MetricLoginFailure)
		g.emitAudit(ctx, EventLoginFailure, "", "", false, err.Error(),
			map[string]string{"username": username, "reason": meta.reason})
		return Decision{
			State:      StateAnonymous,
			RedirectTo: g.config.Routes.LoginPath + "?error",
		}, ErrInvalidCredentials
	case errors.Is(err, ErrUpstreamTimeout):
		g.metrics.Inc(MetricUpstreamTimeout)
		g.emitAudit(ctx, EventUpstreamTimeout, "", "", false, err.Error(),
			map[string]string{"username": username})
		return Decision{
			State:      StateAnonymous,
			RedirectTo: g.config.Routes.LoginPath + "?error",
		}, err
	default:
		return Decision{}, err
	}
}

func (g *Gateway) reportUpgrade(ctx context.Context, accountID string, meta verifyMeta) {
	if meta.upgraded {
		g.emitAudit(ctx, EventPasswordUpgraded, accountID, "", true, "", nil)
	} else if meta.upgradeErr != nil {
		g.emitAudit(ctx, EventPasswordUpgradeFail, accountID, "", false, meta.upgradeErr.Error(), nil)
	}
}

func (g *Gateway) reportEvictions(ctx context.Context, accountID string, evicted []string) {
	for _, token := range evicted {
		g.metrics.Inc(MetricSessionEvicted)
		g.emitAudit(ctx, EventSessionEvicted, accountID, token, true, "", nil)
	}
}

// Logout terminates the presented session and its remember-me series.
// Unknown or already-expired sessions still produce a clean logged-out
// decision so the client's cookies always get cleared.
func (g *Gateway) Logout(ctx context.Context, req Request) (Decision, error) {
	decision := Decision{
		State:         StateLoggedOut,
		RedirectTo:    g.config.Routes.LogoutRedirect,
		ClearSession:  true,
		ClearRemember: true,
	}

	if req.SessionToken == "" {
		return decision, nil
	}

	sess, err := g.sessions.Peek(ctx, req.SessionToken)
	switch {
	case err == nil:
		// revoked below
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return decision, nil
	default:
		return Decision{}, mapStoreErr(err)
	}

	if err := g.sessions.Revoke(ctx, req.SessionToken); err != nil {
		return Decision{}, mapStoreErr(err)
	}
	if sess.RememberSeries != "" && g.remember != nil {
		if err := g.remember.RevokeSeries(ctx, sess.RememberSeries); err != nil {
			g.log.Warn().Err(err).Str("account_id", sess.AccountID).Msg("series revoke on logout failed")
		}
	}

	g.metrics.Inc(MetricLogout)
	g.metrics.Inc(MetricSessionRevoked)
	g.emitAudit(ctx, EventLogout, sess.AccountID, req.SessionToken, true, "", nil)

	decision.AccountID = sess.AccountID
	return decision, nil
}

// LogoutAll revokes every session and remember-me series of an account,
// for administrative lockout and password-change flows.
func (g *Gateway) LogoutAll(ctx context.Context, accountID string) (int, error) {
	revoked, err := g.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if g.remember != nil {
		if _, err := g.remember.RevokeAllForAccount(ctx, accountID); err != nil {
			return len(revoked), mapStoreErr(err)
		}
	}

	g.metrics.Inc(MetricLogoutAll)
	g.emitAudit(ctx, EventLogoutAll, accountID, "", true, "",
		map[string]string{"sessions_revoked": fmt.Sprintf("%d", len(revoked))})
	return len(revoked), nil
}

// ValidateSession resolves a session token directly, sliding its idle
// window, for callers that need the identity without the full decision
// flow (API endpoints, websocket upgrades). Returns [ErrSessionNotFound]
// or [ErrSessionExpired] for dead tokens.
func (g *Gateway) ValidateSession(ctx context.Context, token string) (*Session, error) {
	sess, err := g.sessions.Validate(ctx, token)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, session.ErrExpired):
		return nil, ErrSessionExpired
	case errors.Is(err, session.ErrNotFound):
		return nil, ErrSessionNotFound
	default:
		return nil, mapStoreErr(err)
	}
}

// ActiveSessions reports the account's live session count.
func (g *Gateway) ActiveSessions(ctx context.Context, accountID string) (int, error) {
	n, err := g.sessions.CountActive(ctx, accountID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return n, nil
}

// Config returns a copy of the effective configuration.
func (g *Gateway) Config() Config {
	return cloneConfig(g.config)
}

// Close flushes the audit dispatcher and stops in-memory stores. The
// gateway must not be used afterwards.
func (g *Gateway) Close() {
	if g.audit != nil {
		g.audit.Close()
	}
	if g.memStore != nil {
		g.memStore.Close()
	}
	if g.memCache != nil {
		_ = g.memCache.Close()
	}
}

func (g *Gateway) isPublic(path string) bool {
	if path == g.config.Routes.LoginPath || path == g.config.Routes.LogoutPath {
		return true
	}
	return g.public.matches(path)
}

// rollbackLogin and discardSeries clean up with a detached context since
// the request context is already dead or about to be.
func (g *Gateway) rollbackLogin(token, series string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Timeouts.Store)
	defer cancel()

	if err := g.sessions.Revoke(ctx, token); err != nil {
		g.log.Error().Err(err).Msg("login rollback revoke failed")
	}
	if series != "" && g.remember != nil {
		if err := g.remember.RevokeSeries(ctx, series); err != nil {
			g.log.Error().Err(err).Msg("login rollback series revoke failed")
		}
	}
}

func (g *Gateway) discardSeries(series string) {
	if series == "" || g.remember == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.Timeouts.Store)
	defer cancel()

	if err := g.remember.RevokeSeries(ctx, series); err != nil {
		g.log.Warn().Err(err).Msg("orphan series revoke failed")
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, session.ErrUnavailable) ||
		errors.Is(err, requestcache.ErrUnavailable) ||
		errors.Is(err, rememberme.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
