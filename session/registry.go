package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/lockplex/authgate/internal"
)

// LimitPolicy decides what happens when an account already holds its
// maximum number of active sessions and tries to open another.
type LimitPolicy uint8

const (
	// LimitReject refuses the new login and keeps existing sessions.
	LimitReject LimitPolicy = iota

	// LimitEvictOldest revokes the least recently used session to make
	// room for the new one.
	LimitEvictOldest
)

const minStoreTTL = time.Second

const registerLocks = 64

// Config tunes the registry's expiry and concurrency limits.
type Config struct {
	// IdleTimeout expires a session that has not been validated for this
	// long. Zero disables idle expiry.
	IdleTimeout time.Duration

	// AbsoluteLifetime caps a session's total age regardless of activity.
	// Zero disables the cap.
	AbsoluteLifetime time.Duration

	// MaxPerAccount limits active sessions per account. Zero means
	// unlimited.
	MaxPerAccount int

	// Policy applies when MaxPerAccount is reached.
	Policy LimitPolicy
}

// Registry owns the session lifecycle: registration under the per-account
// cap, validation with sliding idle expiry, and revocation.
type Registry struct {
	store Store
	cfg   Config
	now   func() time.Time

	// Registration for one account must not interleave: the cap check
	// and the save are separate store round trips. Striped by account.
	registerMu [registerLocks]sync.Mutex
}

// NewRegistry creates a [Registry] on top of the given store.
func NewRegistry(store Store, cfg Config) *Registry {
	return &Registry{store: store, cfg: cfg, now: time.Now}
}

// Register creates a session for the account. When the account is at its
// cap, the configured [LimitPolicy] either rejects the login with
// ErrLimitExceeded or evicts least recently used sessions; evicted tokens
// are returned so callers can report them.
func (r *Registry) Register(ctx context.Context, accountID, rememberSeries string) (*Session, []string, error) {
	var evicted []string

	if r.cfg.MaxPerAccount > 0 {
		mu := r.accountLock(accountID)
		mu.Lock()
		defer mu.Unlock()

		count, err := r.store.ActiveCount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		if count >= r.cfg.MaxPerAccount {
			if r.cfg.Policy == LimitReject {
				return nil, nil, ErrLimitExceeded
			}
			evicted, err = r.evictOldest(ctx, accountID, count-r.cfg.MaxPerAccount+1)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	token, err := internal.NewToken()
	if err != nil {
		return nil, nil, err
	}

	now := r.now()
	sess := &Session{
		Token:          token.String(),
		AccountID:      accountID,
		RememberSeries: rememberSeries,
		CreatedAt:      now.UnixNano(),
		LastAccess:     now.UnixNano(),
		ExpiresAt:      r.absoluteExpiry(now),
	}

	if err := r.store.Save(ctx, sess, r.storeTTL(sess, now)); err != nil {
		return nil, nil, err
	}
	return sess, evicted, nil
}

// Validate resolves a token to its session. A hit refreshes the idle
// window; an expired session is deleted and reported as ErrExpired.
func (r *Registry) Validate(ctx context.Context, token string) (*Session, error) {
	sess, err := r.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if r.expired(sess, now) {
		if err := r.store.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	sess.LastAccess = now.UnixNano()
	if err := r.store.Save(ctx, sess, r.storeTTL(sess, now)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Peek resolves a token without refreshing the idle window or mutating
// store state.
func (r *Registry) Peek(ctx context.Context, token string) (*Session, error) {
	sess, err := r.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if r.expired(sess, r.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Revoke deletes a session. Revoking an unknown token is not an error.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	return r.store.Delete(ctx, token)
}

// RevokeAllForAccount deletes every session of the account and returns the
// revoked tokens.
func (r *Registry) RevokeAllForAccount(ctx context.Context, accountID string) ([]string, error) {
	return r.store.DeleteAllForAccount(ctx, accountID)
}

// CountActive reports the account's live session count.
func (r *Registry) CountActive(ctx context.Context, accountID string) (int, error) {
	return r.store.ActiveCount(ctx, accountID)
}

func (r *Registry) accountLock(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &r.registerMu[h.Sum32()%registerLocks]
}

func (r *Registry) expired(sess *Session, now time.Time) bool {
	if sess.ExpiresAt > 0 && now.UnixNano() >= sess.ExpiresAt {
		return true
	}
	if r.cfg.IdleTimeout > 0 && now.Sub(time.Unix(0, sess.LastAccess)) >= r.cfg.IdleTimeout {
		return true
	}
	return false
}

func (r *Registry) absoluteExpiry(now time.Time) int64 {
	if r.cfg.AbsoluteLifetime <= 0 {
		return 0
	}
	return now.Add(r.cfg.AbsoluteLifetime).UnixNano()
}

// storeTTL is the key-level ttl: the idle window, capped by the remaining
// absolute lifetime so the backing store purges on its own.
func (r *Registry) storeTTL(sess *Session, now time.Time) time.Duration {
	ttl := r.cfg.IdleTimeout
	if sess.ExpiresAt > 0 {
		remaining := time.Unix(0, sess.ExpiresAt).Sub(now)
		if ttl <= 0 || remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		// No idle timeout and no absolute cap: pick a day so abandoned
		// sessions still leave the store eventually.
		if r.cfg.IdleTimeout <= 0 && r.cfg.AbsoluteLifetime <= 0 {
			return 24 * time.Hour
		}
		return minStoreTTL
	}
	if ttl < minStoreTTL {
		ttl = minStoreTTL
	}
	return ttl
}

func (r *Registry) evictOldest(ctx context.Context, accountID string, n int) ([]string, error) {
	tokens, err := r.store.ActiveTokens(ctx, accountID)
	if err != nil {
		return nil, err
	}

	type aged struct {
		token      string
		lastAccess int64
	}
	candidates := make([]aged, 0, len(tokens))
	for _, token := range tokens {
		sess, err := r.store.Get(ctx, token)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, aged{token: token, lastAccess: sess.LastAccess})
	}

	evicted := make([]string, 0, n)
	for len(evicted) < n && len(candidates) > 0 {
		oldest := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].lastAccess < candidates[oldest].lastAccess {
				oldest = i
			}
		}
		token := candidates[oldest].token
		if err := r.store.Delete(ctx, token); err != nil {
			return nil, err
		}
		evicted = append(evicted, token)
		candidates = append(candidates[:oldest], candidates[oldest+1:]...)
	}
	return evicted, nil
}
