package authgate

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown usernames and wrong
	// passwords alike. The two cases are deliberately indistinguishable
	// to callers; audit metadata records which one it was.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountNotFound is returned by [AccountProvider] implementations
	// when no account matches the lookup. The gateway never surfaces it
	// to clients.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSessionNotFound means the presented session token is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired means the session hit its idle or absolute
	// deadline and has been removed.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionLimitExceeded means the account is at its concurrent
	// session cap and the limit policy rejects new logins.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrRememberMeReuse means a spent remember-me token was replayed.
	// The gateway has already revoked the series and every session of
	// the affected account.
	ErrRememberMeReuse = errors.New("remember-me token reuse detected")

	// ErrUpstreamTimeout means the account provider did not answer
	// within the configured deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrStoreUnavailable wraps transport failures against the session,
	// request cache, or remember-me stores.
	ErrStoreUnavailable = errors.New("store unavailable")
)
