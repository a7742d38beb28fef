// Command authgate-demo runs a small form-login site behind the gateway:
// public pages at / and /hello, a protected page at /my, and the usual
// /login and /logout endpoints. Without --redis-addr it starts an
// embedded miniredis so the demo is self-contained.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lockplex/authgate"
	"github.com/lockplex/authgate/accounts"
	"github.com/lockplex/authgate/middleware"
	"github.com/lockplex/authgate/password"
)

const (
	seedUsername = "yujun"
	seedPassword = "password123"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "authgate-demo",
		Usage: "form-login demo site behind the authgate gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   ":8080",
				Usage:   "address to listen on",
				EnvVars: []string{"AUTHGATE_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "redis address; empty starts an embedded miniredis",
				EnvVars: []string{"AUTHGATE_REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "sqlite",
				Usage:   "path to a sqlite accounts database; empty uses an in-memory store",
				EnvVars: []string{"AUTHGATE_SQLITE"},
			},
			&cli.StringFlag{
				Name:    "remember-key",
				Usage:   "remember-me signing key (min 32 bytes); empty generates one",
				EnvVars: []string{"AUTHGATE_REMEMBER_KEY"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	addr := c.String("redis-addr")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("embedded redis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		log.Info().Str("addr", addr).Msg("started embedded redis")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	signingKey := []byte(c.String("remember-key"))
	if len(signingKey) == 0 {
		signingKey = make([]byte, 32)
		if _, err := rand.Read(signingKey); err != nil {
			return err
		}
		log.Warn().Msg("generated ephemeral remember-me key, tokens will not survive restarts")
	}

	cfg := authgate.Config{}
	cfg.Session.RedisPrefix = "ag"
	cfg.Session.IdleTimeout = 30 * time.Minute
	cfg.Session.AbsoluteLifetime = 12 * time.Hour
	cfg.Session.MaxSessionsPerAccount = 1
	cfg.Session.LimitPolicy = authgate.LimitReject
	cfg.Session.CookieName = "authgate_session"
	cfg.Session.SweepInterval = time.Minute
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.RedisPrefix = "agrm"
	cfg.RememberMe.Validity = 14 * 24 * time.Hour
	cfg.RememberMe.SigningKey = signingKey
	cfg.RememberMe.CookieName = "remember-me"
	cfg.RememberMe.Parameter = "remember"
	cfg.RequestCache.RedisPrefix = "agrc"
	cfg.RequestCache.TTL = 5 * time.Minute
	cfg.RequestCache.DefaultTarget = "/"
	cfg.RequestCache.PreAuthCookieName = "authgate_preauth"
	cfg.Routes.LoginPath = "/login"
	cfg.Routes.LogoutPath = "/logout"
	cfg.Routes.LogoutRedirect = "/"
	cfg.Routes.Public = []string{"/", "/hello"}
	cfg.Password.Memory = 64 * 1024
	cfg.Password.Time = 3
	cfg.Password.Parallelism = 2
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 32
	cfg.Password.UpgradeOnLogin = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1024
	cfg.Audit.DropIfFull = true
	cfg.Metrics.Enabled = true
	cfg.Timeouts.Provider = 3 * time.Second
	cfg.Timeouts.Store = 2 * time.Second

	provider, err := buildProvider(c.String("sqlite"), cfg, log)
	if err != nil {
		return err
	}

	gw, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithAuditSink(authgate.NewJSONWriterSink(os.Stdout)).
		WithLogger(log).
		Build()
	if err != nil {
		return err
	}
	defer gw.Close()

	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", pageHandler("Home", "Anyone can see this page."))
	router.HandlerFunc(http.MethodGet, "/hello", pageHandler("Hello", "Hello, anonymous visitor!"))
	router.HandlerFunc(http.MethodGet, "/my", myPageHandler)
	router.HandlerFunc(http.MethodGet, "/login", loginFormHandler)

	server := &http.Server{
		Addr:    c.String("listen"),
		Handler: middleware.Handler(gw, router),
	}

	log.Info().Str("listen", server.Addr).Msg("demo site up, log in as yujun/password123")
	return server.ListenAndServe()
}

func buildProvider(sqlitePath string, cfg authgate.Config, log zerolog.Logger) (authgate.AccountProvider, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sqlitePath == "" {
		provider := accounts.NewMemory(hasher)
		if _, err := provider.CreateAccount(ctx, seedUsername, seedPassword); err != nil {
			return nil, err
		}
		log.Info().Str("username", seedUsername).Msg("seeded demo account in memory")
		return provider, nil
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	provider := accounts.NewSQLite(db, hasher)
	if err := provider.Init(ctx); err != nil {
		return nil, err
	}
	if _, err := provider.GetAccountByUsername(ctx, seedUsername); err != nil {
		if _, err := provider.CreateAccount(ctx, seedUsername, seedPassword); err != nil {
			return nil, err
		}
		log.Info().Str("username", seedUsername).Str("db", sqlitePath).Msg("seeded demo account")
	}
	return provider, nil
}

func pageHandler(title, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<h1>%s</h1><p>%s</p><p><a href="/my">my page</a> | <a href="/login">log in</a></p>`, title, body)
	}
}

func myPageHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no account in context", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<h1>My Page</h1><p>You are account %s.</p>
<form method="post" action="/logout"><button type="submit">Log out</button></form>`, accountID)
}

func loginFormHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	msg := ""
	switch {
	case r.URL.Query().Has("error") && r.URL.Query().Get("error") == "limit":
		msg = `<p style="color:red">Already logged in elsewhere.</p>`
	case r.URL.Query().Has("error"):
		msg = `<p style="color:red">Invalid username or password.</p>`
	}
	fmt.Fprintf(w, `<h1>Log in</h1>%s
<form method="post" action="/login">
  <label>Username <input name="username"></label><br>
  <label>Password <input name="password" type="password"></label><br>
  <label><input type="checkbox" name="remember" value="on"> Remember me</label><br>
  <button type="submit">Log in</button>
</form>`, msg)
}
