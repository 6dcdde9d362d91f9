// Package jwt mints and validates the access and refresh tokens handed to
// activated sessions. Both kinds carry the same {id, name} identity; a typ
// claim keeps one from being accepted in place of the other.
package jwt
