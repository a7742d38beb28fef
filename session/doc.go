// Package session tracks authenticated sessions behind opaque tokens.
//
// A [Registry] sits on top of a [Store] and enforces idle timeouts,
// absolute lifetimes, and per-account session caps. Two stores ship with
// the package: [RedisStore] for multi-node deployments and [MemoryStore]
// for tests and single processes. Sessions travel between store and
// registry as a compact versioned binary payload.
package session
