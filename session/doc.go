// Package session persists browser sessions in Redis.
//
// A session is a hash keyed by its guid, plus an append-only list of
// pre-authentication attempts and a per-user index set. State changes that
// must not interleave (activation, touch, identification, deactivation) run
// as Lua scripts so concurrent requests observe a consistent record.
//
// The package does not know about authentications or tokens; the Engine
// joins those on read.
package session
