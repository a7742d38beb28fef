package authgate

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lockplex/authgate/internal/metrics"
	"github.com/lockplex/authgate/password"
	"github.com/lockplex/authgate/rememberme"
	"github.com/lockplex/authgate/requestcache"
	"github.com/lockplex/authgate/session"
)

// Builder assembles a [Gateway]. With a Redis client the session registry,
// request cache, and remember-me store all live in Redis; without one the
// gateway runs on in-process stores and remember-me must stay disabled.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	provider AccountProvider
	sink     AuditSink
	store    session.Store
	cache    requestcache.Cache
	log      *zerolog.Logger

	built bool
}

// New returns a [Builder] preloaded with defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountProvider(provider AccountProvider) *Builder {
	b.provider = provider
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithSessionStore overrides the session store picked from the Redis
// client, for custom backends.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithRequestCache overrides the request-cache backend.
func (b *Builder) WithRequestCache(cache requestcache.Cache) *Builder {
	b.cache = cache
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = &log
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithAuditEnabled(enabled bool) *Builder {
	b.config.Audit.Enabled = enabled
	return b
}

// Build validates the configuration and wires the gateway.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("account provider required")
	}
	if cfg.RememberMe.Enabled && b.redis == nil {
		return nil, errors.New("RememberMe requires redis client")
	}

	log := zerolog.Nop()
	if b.log != nil {
		log = *b.log
	}

	g := &Gateway{
		config:   cfg,
		log:      log,
		provider: b.provider,
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil {
		if b.redis != nil {
			store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		} else {
			mem := session.NewMemoryStore(cfg.Session.SweepInterval)
			g.memStore = mem
			store = mem
		}
	}
	g.sessions = session.NewRegistry(store, session.Config{
		IdleTimeout:      cfg.Session.IdleTimeout,
		AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
		MaxPerAccount:    cfg.Session.MaxSessionsPerAccount,
		Policy:           cfg.Session.LimitPolicy,
	})

	// -------- REQUEST CACHE --------
	cache := b.cache
	if cache == nil {
		if b.redis != nil {
			cache = requestcache.NewRedisCache(b.redis, cfg.RequestCache.RedisPrefix)
		} else {
			mem, err := requestcache.NewMemoryCache(cfg.RequestCache.TTL)
			if err != nil {
				return nil, err
			}
			g.memCache = mem
			cache = mem
		}
	}
	g.requests = cache

	// -------- REMEMBER-ME --------
	if cfg.RememberMe.Enabled {
		issuer, err := rememberme.NewIssuer(
			b.redis,
			cfg.RememberMe.RedisPrefix,
			cfg.RememberMe.SigningKey,
			cfg.RememberMe.Validity,
		)
		if err != nil {
			return nil, err
		}
		g.remember = issuer
	}

	// -------- ROUTES --------
	public, err := newRouteSet(cfg.Routes.Public)
	if err != nil {
		return nil, err
	}
	g.public = public

	// -------- VERIFIER --------
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
	g.verifier, err = newCredentialVerifier(b.provider, hasher, cfg.Password, cfg.Timeouts.Provider, log)
	if err != nil {
		return nil, err
	}

	g.audit = newAuditDispatcher(cfg.Audit, b.sink)
	g.metrics = metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled})

	b.built = true
	return g, nil
}
