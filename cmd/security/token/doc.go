// Package token provides refresh-token primitives for chirp.
//
// It is the single source of truth for how opaque refresh secrets are minted
// and how they are reduced to the digest stored server-side.
//
// Design goals:
// - Secrets are >= 48 random bytes, hex encoded, handed to the client once.
// - Default mode: SHA-256(secret) as 64-char lowercase hex (wire compatible).
// - Optional pepper mode: HMAC-SHA256(secret, key) when CHIRP_TOKEN_HMAC_KEY is set.
// - Digests are compared in constant time.
package token
