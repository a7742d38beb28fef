package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the token does not resolve to a stored session.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session existed but is past its idle or
	// absolute deadline. Callers may treat it like ErrNotFound.
	ErrExpired = errors.New("session expired")

	// ErrLimitExceeded means registering the session would push the
	// account over its active-session cap.
	ErrLimitExceeded = errors.New("session limit exceeded")

	// ErrUnavailable wraps transport failures talking to the backing store.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store persists sessions keyed by token and maintains a per-account index
// of active tokens. Implementations must expire entries on their own once
// the ttl passed to Save elapses.
type Store interface {
	// Save writes the session and resets its ttl. Saving an existing
	// token overwrites it.
	Save(ctx context.Context, s *Session, ttl time.Duration) error

	// Get loads a session by token. Returns ErrNotFound for unknown or
	// already-expired tokens.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete removes a session and its index entry. Deleting a missing
	// token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteAllForAccount removes every session of the account and
	// returns the tokens it deleted.
	DeleteAllForAccount(ctx context.Context, accountID string) ([]string, error)

	// ActiveTokens lists the live tokens of the account. Implementations
	// prune index entries whose session already expired.
	ActiveTokens(ctx context.Context, accountID string) ([]string, error)

	// ActiveCount reports how many live sessions the account holds.
	ActiveCount(ctx context.Context, accountID string) (int, error)
}
