// Package identity owns chirp's user accounts.
//
// It stores users with their Argon2id password hashes, checks credentials,
// records password changes and account disabling, and exposes the live
// account state the session layer re-checks on sensitive routes.
package identity
