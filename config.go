package authgate

import (
	"errors"
	"strings"
	"time"
)

// Config is the full gateway configuration. Zero values fall back to the
// defaults from defaultConfig; a Config is validated once at Build time
// and treated as immutable afterwards.
type Config struct {
	Session      SessionConfig
	RememberMe   RememberMeConfig
	RequestCache RequestCacheConfig
	Routes       RoutesConfig
	Password     PasswordConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Timeouts     TimeoutConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes session lifetime and the per-account cap.
type SessionConfig struct {
	RedisPrefix string

	// IdleTimeout expires sessions with no activity. Each successful
	// evaluation slides the window.
	IdleTimeout time.Duration

	// AbsoluteLifetime caps total session age regardless of activity.
	AbsoluteLifetime time.Duration

	// MaxSessionsPerAccount limits concurrent sessions. Zero means
	// unlimited.
	MaxSessionsPerAccount int

	// LimitPolicy applies when MaxSessionsPerAccount is reached.
	LimitPolicy LimitPolicy

	// CookieName is the session cookie used by the HTTP middleware.
	CookieName string

	// SweepInterval controls the in-memory store's expiry janitor. It is
	// ignored when sessions live in Redis, where key TTLs self-purge.
	SweepInterval time.Duration
}

// RememberMeConfig tunes persistent logins. Remember-me requires a Redis
// client; Build rejects an enabled config without one.
type RememberMeConfig struct {
	Enabled     bool
	RedisPrefix string

	// Validity bounds how long an unused grant stays live. Every use
	// rotates the token and restarts the window.
	Validity time.Duration

	// SigningKey signs the client-side token. At least 32 bytes.
	SigningKey []byte

	// CookieName is the remember-me cookie used by the HTTP middleware.
	CookieName string

	// Parameter is the login form field that opts into remember-me.
	Parameter string
}

// RequestCacheConfig tunes the deferred-request stash.
type RequestCacheConfig struct {
	RedisPrefix string

	// TTL bounds how long a parked target survives before login.
	TTL time.Duration

	// DefaultTarget is where a login lands when no request was parked.
	DefaultTarget string

	// PreAuthCookieName carries the pre-auth token through the login
	// round trip.
	PreAuthCookieName string
}

// RoutesConfig declares which paths need authentication. Patterns are
// exact paths or prefix wildcards like "/static/*"; the most specific
// match wins.
type RoutesConfig struct {
	// LoginPath serves the login form and receives its POST.
	LoginPath string

	// LogoutPath terminates the session.
	LogoutPath string

	// LogoutRedirect is where a logout lands.
	LogoutRedirect string

	// Public lists paths reachable without a session. The login and
	// logout paths are always reachable.
	Public []string
}

// PasswordConfig mirrors the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// UpgradeOnLogin rehashes passwords stored with weaker parameters
	// after a successful verification.
	UpgradeOnLogin bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// DropIfFull sheds events when the buffer is full instead of
	// blocking the request path.
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// TimeoutConfig bounds calls to external dependencies. An exceeded
// provider deadline surfaces as [ErrUpstreamTimeout].
type TimeoutConfig struct {
	Provider time.Duration
	Store    time.Duration
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:           "ag",
			IdleTimeout:           30 * time.Minute,
			AbsoluteLifetime:      12 * time.Hour,
			MaxSessionsPerAccount: 1,
			LimitPolicy:           LimitReject,
			CookieName:            "authgate_session",
			SweepInterval:         time.Minute,
		},
		RememberMe: RememberMeConfig{
			Enabled:     false,
			RedisPrefix: "agrm",
			Validity:    14 * 24 * time.Hour,
			CookieName:  "remember-me",
			Parameter:   "remember",
		},
		RequestCache: RequestCacheConfig{
			RedisPrefix:       "agrc",
			TTL:               5 * time.Minute,
			DefaultTarget:     "/",
			PreAuthCookieName: "authgate_preauth",
		},
		Routes: RoutesConfig{
			LoginPath:      "/login",
			LogoutPath:     "/logout",
			LogoutRedirect: "/",
			Public:         []string{"/"},
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Timeouts: TimeoutConfig{
			Provider: 3 * time.Second,
			Store:    2 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.RememberMe.SigningKey = cloneBytes(cfg.RememberMe.SigningKey)
	if len(cfg.Routes.Public) > 0 {
		out.Routes.Public = make([]string, len(cfg.Routes.Public))
		copy(out.Routes.Public, cfg.Routes.Public)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internally inconsistent or unsafe
// values.
func (c *Config) Validate() error {
	// Session
	if c.Session.IdleTimeout < 0 {
		return errors.New("Session IdleTimeout must be >= 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.IdleTimeout > 0 && c.Session.AbsoluteLifetime > 0 &&
		c.Session.IdleTimeout > c.Session.AbsoluteLifetime {
		return errors.New("Session IdleTimeout must not exceed AbsoluteLifetime")
	}
	if c.Session.MaxSessionsPerAccount < 0 {
		return errors.New("Session MaxSessionsPerAccount must be >= 0")
	}
	if c.Session.LimitPolicy != LimitReject && c.Session.LimitPolicy != LimitEvictOldest {
		return errors.New("Session LimitPolicy is invalid")
	}
	if c.Session.CookieName == "" {
		return errors.New("Session CookieName must be set")
	}

	// Remember-me
	if c.RememberMe.Enabled {
		if c.RememberMe.Validity <= 0 {
			return errors.New("RememberMe Validity must be > 0")
		}
		if len(c.RememberMe.SigningKey) < 32 {
			return errors.New("RememberMe SigningKey must be at least 32 bytes")
		}
		if c.RememberMe.CookieName == "" {
			return errors.New("RememberMe CookieName must be set")
		}
		if c.RememberMe.Parameter == "" {
			return errors.New("RememberMe Parameter must be set")
		}
	}

	// Request cache
	if c.RequestCache.TTL <= 0 {
		return errors.New("RequestCache TTL must be > 0")
	}
	if !strings.HasPrefix(c.RequestCache.DefaultTarget, "/") {
		return errors.New("RequestCache DefaultTarget must be an absolute path")
	}
	if c.RequestCache.PreAuthCookieName == "" {
		return errors.New("RequestCache PreAuthCookieName must be set")
	}

	// Routes
	if !strings.HasPrefix(c.Routes.LoginPath, "/") {
		return errors.New("Routes LoginPath must be an absolute path")
	}
	if !strings.HasPrefix(c.Routes.LogoutPath, "/") {
		return errors.New("Routes LogoutPath must be an absolute path")
	}
	if !strings.HasPrefix(c.Routes.LogoutRedirect, "/") {
		return errors.New("Routes LogoutRedirect must be an absolute path")
	}
	for _, pattern := range c.Routes.Public {
		if !strings.HasPrefix(pattern, "/") {
			return errors.New("Routes Public patterns must be absolute paths")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Timeouts
	if c.Timeouts.Provider <= 0 {
		return errors.New("Timeouts Provider must be > 0")
	}
	if c.Timeouts.Store <= 0 {
		return errors.New("Timeouts Store must be > 0")
	}

	return nil
}
