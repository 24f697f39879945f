// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string layout
// ($argon2id$v=19$m=..,t=..,p=..$salt$key) and are treated as untrusted input
// on Verify: malformed strings and parameters far above the configured cost
// are refused before any key derivation runs.
package password
