// Package session implements chirp's session-security core.
//
// Access tokens are short-lived HS256 JWTs verified without I/O.
// Refresh tokens are opaque random secrets stored only as SHA-256 digests.
// Every login starts a token family; each refresh atomically retires the
// presented record and chains a successor into the same family. Presenting a
// retired secret after the grace period is treated as theft and revokes the
// whole family.
//
// Guard re-checks live account state (password change, disable) on the small
// set of routes where a stateless token is not enough.
//
// Transport (HTTP/WS) integration lives in auth/api and realtime.
package session
