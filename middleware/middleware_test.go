package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/require"

	"github.com/lockplex/authgate"
	"github.com/lockplex/authgate/accounts"
	"github.com/lockplex/authgate/password"
)

func testConfig() authgate.Config {
	cfg := authgate.Config{}
	cfg.Session.CookieName = "authgate_session"
	cfg.Session.IdleTimeout = 30 * time.Minute
	cfg.Session.AbsoluteLifetime = 12 * time.Hour
	cfg.Session.MaxSessionsPerAccount = 1
	cfg.Session.SweepInterval = time.Minute
	cfg.RequestCache.TTL = 5 * time.Minute
	cfg.RequestCache.DefaultTarget = "/"
	cfg.RequestCache.PreAuthCookieName = "authgate_preauth"
	cfg.Routes.LoginPath = "/login"
	cfg.Routes.LogoutPath = "/logout"
	cfg.Routes.LogoutRedirect = "/"
	cfg.Routes.Public = []string{"/", "/hello"}
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 16
	cfg.Timeouts.Provider = 3 * time.Second
	cfg.Timeouts.Store = 2 * time.Second
	return cfg
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	require.NoError(t, err)

	provider := accounts.NewMemory(hasher)
	_, err = provider.CreateAccount(context.Background(), "yujun", "password123")
	require.NoError(t, err)

	gw, err := authgate.New().
		WithConfig(testConfig()).
		WithAccountProvider(provider).
		Build()
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("public"))
	})
	mux.HandleFunc("/my", func(w http.ResponseWriter, r *http.Request) {
		id, ok := AccountIDFromContext(r.Context())
		if !ok {
			http.Error(w, "no account", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("my page for " + id))
	})

	return Handler(gw, mux)
}

func TestPublicPathServedAnonymously(t *testing.T) {
	apitest.New().
		Handler(newTestHandler(t)).
		Get("/").
		Expect(t).
		Status(http.StatusOK).
		Body("public").
		End()
}

func TestProtectedPathRedirectsToLogin(t *testing.T) {
	apitest.New().
		Handler(newTestHandler(t)).
		Get("/my").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login").
		End()
}

func TestWrongPasswordRedirectsWithError(t *testing.T) {
	apitest.New().
		Handler(newTestHandler(t)).
		Post("/login").
		FormData("username", "yujun").
		FormData("password", "wrong").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login?error").
		End()
}

func TestUnknownUsernameLooksLikeWrongPassword(t *testing.T) {
	apitest.New().
		Handler(newTestHandler(t)).
		Post("/login").
		FormData("username", "nobody").
		FormData("password", "whatever").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login?error").
		End()
}

// Full walk: challenge, login, authenticated page, logout.
func TestLoginFlowRoundTrip(t *testing.T) {
	handler := newTestHandler(t)

	// 1. Anonymous hit on /my parks the target and issues a pre-auth cookie.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/my", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
	preAuth := findCookie(t, rec, "authgate_preauth")
	require.NotEmpty(t, preAuth.Value)

	// 2. Login with the pre-auth cookie lands back on /my.
	form := url.Values{"username": {"yujun"}, "password": {"password123"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(preAuth)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/my", rec.Header().Get("Location"))
	session := findCookie(t, rec, "authgate_session")
	require.NotEmpty(t, session.Value)

	// 3. The session cookie admits the protected page.
	req = httptest.NewRequest(http.MethodGet, "/my", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "my page for ")

	// 4. Logout clears the session and redirects home.
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	cleared := findCookie(t, rec, "authgate_session")
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)

	// 5. The revoked session no longer admits /my.
	req = httptest.NewRequest(http.MethodGet, "/my", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestSecondLoginRejectedAtSessionCap(t *testing.T) {
	handler := newTestHandler(t)

	login := func() *httptest.ResponseRecorder {
		form := url.Values{"username": {"yujun"}, "password": {"password123"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := login()
	require.Equal(t, http.StatusFound, first.Code)
	require.Equal(t, "/", first.Header().Get("Location"))

	second := login()
	require.Equal(t, http.StatusFound, second.Code)
	require.Equal(t, "/login?error=limit", second.Header().Get("Location"))
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}
