// Package middleware adapts a [authgate.Gateway] to net/http. It reads
// the cookies a request carries, runs the gateway, and executes the
// resulting decision: setting or clearing cookies, redirecting, or
// passing the request down the chain with the account attached to the
// context.
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/lockplex/authgate"
)

type accountIDContextKey struct{}

// AccountIDFromContext returns the authenticated account ID attached by
// [Handler], if any.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDContextKey{}).(string)
	return id, ok && id != ""
}

// Handler wraps next behind the gateway. Requests to the configured login
// and logout paths are intercepted; everything else is evaluated and
// either served or redirected to the login page.
func Handler(gw *authgate.Gateway, next http.Handler) http.Handler {
	cfg := gw.Config()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authgate.WithClientIP(r.Context(), clientIP(r))
		ctx = authgate.WithUserAgent(ctx, r.UserAgent())

		req := authgate.Request{
			Path:          r.URL.Path,
			SessionToken:  cookieValue(r, cfg.Session.CookieName),
			PreAuthToken:  cookieValue(r, cfg.RequestCache.PreAuthCookieName),
			RememberToken: cookieValue(r, cfg.RememberMe.CookieName),
		}

		switch {
		case r.URL.Path == cfg.Routes.LoginPath && r.Method == http.MethodPost:
			handleLogin(w, r, gw, cfg, req, next)
		case r.URL.Path == cfg.Routes.LogoutPath && (r.Method == http.MethodPost || r.Method == http.MethodGet):
			handleLogout(w, r.WithContext(ctx), gw, cfg, req)
		default:
			handleResource(w, r.WithContext(ctx), gw, cfg, req, next)
		}
	})
}

func handleResource(w http.ResponseWriter, r *http.Request, gw *authgate.Gateway, cfg authgate.Config, req authgate.Request, next http.Handler) {
	decision, err := gw.Authenticate(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	applyDecision(w, r, cfg, decision, next)
}

func handleLogin(w http.ResponseWriter, r *http.Request, gw *authgate.Gateway, cfg authgate.Config, req authgate.Request, next http.Handler) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := authgate.WithClientIP(r.Context(), clientIP(r))
	ctx = authgate.WithUserAgent(ctx, r.UserAgent())

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	remember := r.PostFormValue(cfg.RememberMe.Parameter) != ""

	decision, err := gw.Login(ctx, req, username, password, remember)
	if err != nil && decision.RedirectTo == "" {
		fail(w, err)
		return
	}
	applyDecision(w, r, cfg, decision, next)
}

func handleLogout(w http.ResponseWriter, r *http.Request, gw *authgate.Gateway, cfg authgate.Config, req authgate.Request) {
	decision, err := gw.Logout(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	applyDecision(w, r, cfg, decision, nil)
}

func applyDecision(w http.ResponseWriter, r *http.Request, cfg authgate.Config, d authgate.Decision, next http.Handler) {
	if d.ClearSession && d.SessionToken == "" {
		clearCookie(w, cfg.Session.CookieName)
	}
	if d.SessionToken != "" {
		setCookie(w, cfg.Session.CookieName, d.SessionToken, 0)
	}

	if d.ClearRemember && d.RememberToken == "" {
		clearCookie(w, cfg.RememberMe.CookieName)
	}
	if d.RememberToken != "" {
		setCookie(w, cfg.RememberMe.CookieName, d.RememberToken, int(cfg.RememberMe.Validity.Seconds()))
	}

	if d.PreAuthToken != "" {
		setCookie(w, cfg.RequestCache.PreAuthCookieName, d.PreAuthToken, int(cfg.RequestCache.TTL.Seconds()))
	} else if d.State == authgate.StateAuthenticated {
		clearCookie(w, cfg.RequestCache.PreAuthCookieName)
	}

	if d.RedirectTo != "" {
		http.Redirect(w, r, d.RedirectTo, http.StatusFound)
		return
	}

	if next == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	if d.State == authgate.StateAuthenticated && d.AccountID != "" {
		ctx = context.WithValue(ctx, accountIDContextKey{}, d.AccountID)
	}
	next.ServeHTTP(w, r.WithContext(ctx))
}

func fail(w http.ResponseWriter, err error) {
	if errors.Is(err, authgate.ErrStoreUnavailable) || errors.Is(err, authgate.ErrUpstreamTimeout) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
