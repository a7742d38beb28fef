// Package requestcache stashes the URL an anonymous visitor asked for so
// the gateway can send them back there after a successful login. Entries
// are keyed by pre-auth token and are one-shot: a recall consumes the
// entry.
package requestcache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no saved target exists for the pre-auth token,
	// either because none was stored or because it was already consumed.
	ErrNotFound = errors.New("no saved request")

	// ErrUnavailable wraps transport failures talking to the backing store.
	ErrUnavailable = errors.New("request cache unavailable")
)

// Cache stores one deferred request target per pre-auth token.
type Cache interface {
	// Remember saves the target path under the pre-auth token for ttl.
	// Remembering twice under the same token replaces the earlier target.
	Remember(ctx context.Context, preAuthToken, target string, ttl time.Duration) error

	// Recall returns the saved target and deletes it. A second Recall for
	// the same token returns ErrNotFound.
	Recall(ctx context.Context, preAuthToken string) (string, error)
}
