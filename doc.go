// Package authgate is a framework-free, session-aware authentication
// gateway for form-login web applications.
//
// The [Gateway] is transport-agnostic: it evaluates a [Request] and
// returns a [Decision] that tells the caller what to serve, where to
// redirect, and which tokens to set or clear. The HTTP glue lives in the
// middleware sub-package.
//
// A gateway is assembled with the [Builder]:
//
//	gw, err := authgate.New().
//		WithRedis(rdb).
//		WithAccountProvider(provider).
//		Build()
//
// Sessions are opaque random tokens with sliding idle expiry, an absolute
// lifetime cap, and a per-account concurrency limit. Optional remember-me
// support issues rotating persistent tokens with replay detection: a
// replayed token revokes the whole series and every session of the
// account.
package authgate
