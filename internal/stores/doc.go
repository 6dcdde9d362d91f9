// Package stores provides the Redis-backed records the engine mutates
// alongside sessions: authentications, MFA challenges, and pending
// registrations.
//
// # Design
//
// Records are Redis hashes keyed by guid with secondary index keys
// (session id, access-token digest, idempotency key, magic-link correlator).
// Every conditional mutation runs as a single Lua script so concurrent
// requests agree on one outcome: the authentication upsert converges on one
// record per session, refresh rotation has exactly one winner, and a
// challenge channel verifies at most once. OTP codes are stored as digests.
//
// Challenges are never deleted by the ledger; they age out after the
// retention TTL and expiry is checked against the caller's clock on every
// verification.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT mint
// tokens, deliver codes, or decide flow outcomes; those belong to
// internal/flows and the engine.
package stores
