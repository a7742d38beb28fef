package authgate

import (
	"context"
	"io"
	"time"

	"github.com/lockplex/authgate/internal/audit"
	"github.com/lockplex/authgate/session"
)

// AccountRecord is what an [AccountProvider] returns for a stored account.
type AccountRecord struct {
	AccountID    string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountProvider is the application's account database. Implementations
// return [ErrAccountNotFound] for unknown accounts and should respect
// context cancellation; the gateway applies its own call deadline on top.
type AccountProvider interface {
	GetAccountByUsername(ctx context.Context, username string) (AccountRecord, error)
	GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error)

	// UpdatePasswordHash stores a rehashed password after a login with
	// outdated hashing parameters. A failed update must not fail the login.
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error
}

// State is the gateway's view of a request after evaluation.
type State uint8

const (
	// StateAnonymous means no identity is attached and none is required.
	StateAnonymous State = iota

	// StateChallenged means the request needs a login before it can
	// proceed; the original target has been parked in the request cache.
	StateChallenged

	// StateAuthenticated means a live session backs the request.
	StateAuthenticated

	// StateLoggedOut means the session was just terminated.
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Request carries the transport-agnostic inputs of one evaluation: the
// path being accessed and whatever tokens the client presented.
type Request struct {
	Path          string
	SessionToken  string
	PreAuthToken  string
	RememberToken string
}

// Decision tells the transport layer what to do with the request. Token
// fields are set when the client should receive (or lose) a credential;
// empty fields mean leave the client's state alone.
type Decision struct {
	State     State
	AccountID string

	// RedirectTo, when non-empty, sends the client elsewhere instead of
	// serving the request.
	RedirectTo string

	SessionToken string
	ClearSession bool

	PreAuthToken string

	RememberToken string
	ClearRemember bool
}

// Session is the stored session record.
type Session = session.Session

// LimitPolicy decides what happens when an account is at its session cap.
type LimitPolicy = session.LimitPolicy

const (
	LimitReject      = session.LimitReject
	LimitEvictOldest = session.LimitEvictOldest
)

// AuditEvent is a single audit record emitted by the gateway.
type AuditEvent = audit.Event

// AuditSink receives [AuditEvent] values from the gateway's audit
// dispatcher. Emit runs on the dispatcher goroutine and should not block.
type AuditSink = audit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line to a writer.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
