package session

// Session binds an opaque token to an authenticated account. The registry
// treats tokens as single-owner: one token maps to exactly one account.
type Session struct {
	Token          string
	AccountID      string
	RememberSeries string

	// Timestamps are unix nanoseconds. Nanosecond resolution keeps
	// least-recently-used ordering stable for sessions created back to
	// back.
	CreatedAt  int64
	LastAccess int64
	ExpiresAt  int64
}
