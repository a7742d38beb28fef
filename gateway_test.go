package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lockplex/authgate/password"
)

type mockAccountProvider struct {
	accounts   map[string]AccountRecord
	byUsername map[string]string
	delay      time.Duration
	updates    int
}

func (m *mockAccountProvider) GetAccountByUsername(ctx context.Context, username string) (AccountRecord, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return AccountRecord{}, ctx.Err()
		}
	}
	id, ok := m.byUsername[username]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return m.accounts[id], nil
}

func (m *mockAccountProvider) GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error) {
	record, ok := m.accounts[accountID]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return record, nil
}

func (m *mockAccountProvider) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	record, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	record.PasswordHash = passwordHash
	m.accounts[accountID] = record
	m.updates++
	return nil
}

func fastHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	if err != nil {
		t.Fatalf("new hasher failed: %v", err)
	}
	return hasher
}

func gatewayTestConfig() Config {
	cfg := defaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Routes.Public = []string{"/", "/hello"}
	return cfg
}

func newTestProvider(t *testing.T, usernames ...string) *mockAccountProvider {
	t.Helper()

	hasher := fastHasher(t)
	provider := &mockAccountProvider{
		accounts:   make(map[string]AccountRecord),
		byUsername: make(map[string]string),
	}
	for i, username := range usernames {
		hash, err := hasher.Hash("password123")
		if err != nil {
			t.Fatalf("hash failed: %v", err)
		}
		id := username + "-id"
		provider.accounts[id] = AccountRecord{
			AccountID:    id,
			Username:     username,
			PasswordHash: hash,
			CreatedAt:    time.Now().Add(-time.Duration(i) * time.Hour),
		}
		provider.byUsername[username] = id
	}
	return provider
}

func newTestGateway(t *testing.T, cfg Config, provider AccountProvider) *Gateway {
	t.Helper()

	gw, err := New().WithConfig(cfg).WithAccountProvider(provider).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw
}

func newRedisTestGateway(t *testing.T, cfg Config, provider AccountProvider) (*Gateway, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gw, err := New().WithConfig(cfg).WithRedis(client).WithAccountProvider(provider).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw, mr
}

func TestPublicPathIsAnonymous(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))

	decision, err := gw.Authenticate(context.Background(), Request{Path: "/hello"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if decision.State != StateAnonymous || decision.RedirectTo != "" {
		t.Fatalf("expected anonymous pass-through, got %+v", decision)
	}
}

func TestProtectedPathChallengesAndParksTarget(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))
	ctx := context.Background()

	decision, err := gw.Authenticate(ctx, Request{Path: "/my"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if decision.State != StateChallenged {
		t.Fatalf("expected challenge, got %v", decision.State)
	}
	if decision.RedirectTo != "/login" || decision.PreAuthToken == "" {
		t.Fatalf("challenge incomplete: %+v", decision)
	}

	// Login with the pre-auth token resumes the parked request.
	login, err := gw.Login(ctx, Request{PreAuthToken: decision.PreAuthToken}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if login.State != StateAuthenticated || login.RedirectTo != "/my" {
		t.Fatalf("expected redirect to parked target, got %+v", login)
	}
	if login.SessionToken == "" || login.AccountID != "yujun-id" {
		t.Fatalf("login decision incomplete: %+v", login)
	}

	// A second login with the same pre-auth token falls back to the
	// default target: the parked entry is one-shot.
	if _, err := gw.Logout(ctx, Request{SessionToken: login.SessionToken}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	again, err := gw.Login(ctx, Request{PreAuthToken: decision.PreAuthToken}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if again.RedirectTo != "/" {
		t.Fatalf("expected default target, got %q", again.RedirectTo)
	}
}

func TestLoginFailureIsOpaque(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))
	ctx := context.Background()

	badPass, err1 := gw.Login(ctx, Request{}, "yujun", "wrong", false)
	unknownUser, err2 := gw.Login(ctx, Request{}, "nobody", "wrong", false)

	if !errors.Is(err1, ErrInvalidCredentials) || !errors.Is(err2, ErrInvalidCredentials) {
		t.Fatalf("expected identical ErrInvalidCredentials, got %v and %v", err1, err2)
	}
	if err1.Error() != err2.Error() {
		t.Fatal("failure errors must be indistinguishable")
	}
	if badPass.RedirectTo != "/login?error" || unknownUser.RedirectTo != "/login?error" {
		t.Fatalf("expected error redirects, got %+v and %+v", badPass, unknownUser)
	}
}

func TestAuthenticatedSessionAdmitsRequest(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))
	ctx := context.Background()

	login, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	decision, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: login.SessionToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if decision.State != StateAuthenticated || decision.AccountID != "yujun-id" {
		t.Fatalf("expected authenticated, got %+v", decision)
	}
	if decision.RedirectTo != "" {
		t.Fatalf("unexpected redirect: %+v", decision)
	}
}

func TestSessionLimitRejectSecondLogin(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Session.MaxSessionsPerAccount = 1
	cfg.Session.LimitPolicy = LimitReject
	gw := newTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	first, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	second, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("expected ErrSessionLimitExceeded, got %v", err)
	}
	if second.RedirectTo != "/login?error=limit" {
		t.Fatalf("expected limit redirect, got %+v", second)
	}

	// The first session is untouched.
	decision, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: first.SessionToken})
	if err != nil || decision.State != StateAuthenticated {
		t.Fatalf("first session should survive: %+v %v", decision, err)
	}
}

func TestSessionLimitEvictOldest(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Session.MaxSessionsPerAccount = 1
	cfg.Session.LimitPolicy = LimitEvictOldest
	gw := newTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	first, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	evicted, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: first.SessionToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if evicted.State != StateChallenged {
		t.Fatalf("evicted session should be challenged, got %+v", evicted)
	}

	kept, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: second.SessionToken})
	if err != nil || kept.State != StateAuthenticated {
		t.Fatalf("new session should survive: %+v %v", kept, err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))
	ctx := context.Background()

	login, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	decision, err := gw.Logout(ctx, Request{SessionToken: login.SessionToken})
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if decision.State != StateLoggedOut || !decision.ClearSession || decision.RedirectTo != "/" {
		t.Fatalf("unexpected logout decision: %+v", decision)
	}

	// Logout of an unknown session still lands cleanly.
	again, err := gw.Logout(ctx, Request{SessionToken: login.SessionToken})
	if err != nil {
		t.Fatalf("repeat logout failed: %v", err)
	}
	if again.State != StateLoggedOut {
		t.Fatalf("unexpected repeat logout decision: %+v", again)
	}
}

func TestUpstreamTimeout(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Timeouts.Provider = 10 * time.Millisecond
	provider := newTestProvider(t, "yujun")
	provider.delay = 200 * time.Millisecond
	gw := newTestGateway(t, cfg, provider)

	_, err := gw.Login(context.Background(), Request{}, "yujun", "password123", false)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestPasswordUpgradeOnLogin(t *testing.T) {
	cfg := gatewayTestConfig()
	// Build a record hashed with weaker-than-configured parameters.
	weakHasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	if err != nil {
		t.Fatalf("weak hasher failed: %v", err)
	}
	weakHash, err := weakHasher.Hash("password123")
	if err != nil {
		t.Fatalf("weak hash failed: %v", err)
	}

	cfg.Password.Memory = 16 * 1024
	provider := &mockAccountProvider{
		accounts: map[string]AccountRecord{
			"yujun-id": {AccountID: "yujun-id", Username: "yujun", PasswordHash: weakHash},
		},
		byUsername: map[string]string{"yujun": "yujun-id"},
	}
	gw := newTestGateway(t, cfg, provider)

	if _, err := gw.Login(context.Background(), Request{}, "yujun", "password123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if provider.updates != 1 {
		t.Fatalf("expected one hash upgrade, got %d", provider.updates)
	}
	if !strings.HasPrefix(provider.accounts["yujun-id"].PasswordHash, "$argon2id$") {
		t.Fatal("upgraded hash malformed")
	}
}

func TestRememberMeAutoLogin(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	gw, _ := newRedisTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	login, err := gw.Login(ctx, Request{}, "yujun", "password123", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if login.RememberToken == "" {
		t.Fatal("expected remember token on opt-in login")
	}

	// Drop the session, keep the remember cookie.
	if _, err := gw.Logout(ctx, Request{SessionToken: login.SessionToken}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// Logout revokes the series, so this token is dead.
	dead, err := gw.Authenticate(ctx, Request{Path: "/my", RememberToken: login.RememberToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if dead.State != StateChallenged || !dead.ClearRemember {
		t.Fatalf("expected challenge with cleared cookie, got %+v", dead)
	}

	// A fresh remember token without a session auto-logs-in and rotates.
	login2, err := gw.Login(ctx, Request{}, "yujun", "password123", true)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	// Abandon the session token without logout, as a closed browser would.
	if err := gw.sessions.Revoke(ctx, login2.SessionToken); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	auto, err := gw.Authenticate(ctx, Request{Path: "/my", RememberToken: login2.RememberToken})
	if err != nil {
		t.Fatalf("auto-login failed: %v", err)
	}
	if auto.State != StateAuthenticated || auto.AccountID != "yujun-id" {
		t.Fatalf("expected authenticated, got %+v", auto)
	}
	if auto.SessionToken == "" || auto.RememberToken == "" || auto.RememberToken == login2.RememberToken {
		t.Fatalf("expected fresh session and rotated token, got %+v", auto)
	}
}

func TestRememberMeReuseRevokesEverything(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Session.MaxSessionsPerAccount = 3
	gw, _ := newRedisTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	login, err := gw.Login(ctx, Request{}, "yujun", "password123", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := gw.sessions.Revoke(ctx, login.SessionToken); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	// Legitimate auto-login rotates the token.
	auto, err := gw.Authenticate(ctx, Request{Path: "/my", RememberToken: login.RememberToken})
	if err != nil {
		t.Fatalf("auto-login failed: %v", err)
	}
	if auto.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %+v", auto)
	}

	// An attacker replays the stolen pre-rotation token.
	attack, err := gw.Authenticate(ctx, Request{Path: "/my", RememberToken: login.RememberToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if attack.State != StateChallenged || !attack.ClearRemember {
		t.Fatalf("expected challenge after reuse, got %+v", attack)
	}

	// The victim's live session died with the series.
	victim, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: auto.SessionToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if victim.State != StateChallenged {
		t.Fatalf("expected victim session revoked, got %+v", victim)
	}

	// The rotated token is dead too.
	rotated, err := gw.Authenticate(ctx, Request{Path: "/my", RememberToken: auto.RememberToken})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if rotated.State != StateChallenged {
		t.Fatalf("expected rotated token dead, got %+v", rotated)
	}

	if gw.MetricValue(MetricRememberReuseDetected) == 0 && gw.metrics.Enabled() {
		t.Fatal("expected reuse metric increment")
	}
}

func TestLogoutAll(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Session.MaxSessionsPerAccount = 5
	gw := newTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		login, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
		if err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
		tokens = append(tokens, login.SessionToken)
	}

	n, err := gw.LogoutAll(ctx, "yujun-id")
	if err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}

	for _, token := range tokens {
		decision, err := gw.Authenticate(ctx, Request{Path: "/my", SessionToken: token})
		if err != nil || decision.State != StateChallenged {
			t.Fatalf("expected challenge for revoked session: %+v %v", decision, err)
		}
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(64)

	provider := newTestProvider(t, "yujun")
	gw, err := New().WithConfig(cfg).WithAccountProvider(provider).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := gw.Login(ctx, Request{}, "yujun", "wrong", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := gw.Login(ctx, Request{}, "yujun", "password123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	gw.Close() // flushes the dispatcher

	var types []string
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		types = append(types, ev.EventType)
		if ev.IP != "203.0.113.9" {
			t.Fatalf("expected client IP on event, got %q", ev.IP)
		}
	}

	wantOrder := []string{EventLoginFailure, EventLoginSuccess}
	if len(types) != len(wantOrder) {
		t.Fatalf("expected %v, got %v", wantOrder, types)
	}
	for i := range wantOrder {
		if types[i] != wantOrder[i] {
			t.Fatalf("expected %v, got %v", wantOrder, types)
		}
	}
}

func TestMetricsCounters(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Metrics.Enabled = true
	gw := newTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	if _, err := gw.Login(ctx, Request{}, "yujun", "wrong", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected failure, got %v", err)
	}
	login, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := gw.Logout(ctx, Request{SessionToken: login.SessionToken}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if got := gw.MetricValue(MetricLoginFailure); got != 1 {
		t.Fatalf("login_failure = %d, want 1", got)
	}
	if got := gw.MetricValue(MetricLoginSuccess); got != 1 {
		t.Fatalf("login_success = %d, want 1", got)
	}
	if got := gw.MetricValue(MetricLogout); got != 1 {
		t.Fatalf("logout = %d, want 1", got)
	}

	snap := gw.MetricsSnapshot()
	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("session_created = %d, want 1", snap.Counters[MetricSessionCreated])
	}
}

func TestValidateSessionDirectly(t *testing.T) {
	cfg := gatewayTestConfig()
	cfg.Session.IdleTimeout = 20 * time.Millisecond
	gw := newTestGateway(t, cfg, newTestProvider(t, "yujun"))
	ctx := context.Background()

	login, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	sess, err := gw.ValidateSession(ctx, login.SessionToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if sess.AccountID != "yujun-id" {
		t.Fatalf("wrong account: %+v", sess)
	}

	if _, err := gw.ValidateSession(ctx, "no-such-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := gw.ValidateSession(ctx, login.SessionToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestCancelledLoginRollsBackSession(t *testing.T) {
	gw := newTestGateway(t, gatewayTestConfig(), newTestProvider(t, "yujun"))

	// A context that dies before the decision can be consumed must not
	// leave a registered session behind.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Login(ctx, Request{}, "yujun", "password123", false)
	if err == nil {
		t.Fatal("expected error from cancelled login")
	}

	n, countErr := gw.ActiveSessions(context.Background(), "yujun-id")
	if countErr != nil {
		t.Fatalf("count failed: %v", countErr)
	}
	if n != 0 {
		t.Fatalf("expected no sessions after cancelled login, got %d", n)
	}
}
