package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when a login presents a bad username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when an access token fails verification for any reason.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrRefreshTokenNotFound is returned when no record matches the presented refresh secret.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrRefreshTokenExpired is returned when the presented refresh secret is past its expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrRefreshTokenRevoked is returned when the presented refresh secret was revoked by logout or mass revocation.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")

	// ErrTokenFamilyReused is returned when an already-rotated secret is replayed after the grace period.
	// The whole family has been revoked by the time the caller sees it.
	ErrTokenFamilyReused = errors.New("refresh token reuse detected")

	// ErrStaleRefreshToken is returned when an already-rotated secret is replayed inside the grace period.
	ErrStaleRefreshToken = errors.New("stale refresh token")

	// ErrSessionRevoked is returned by Guard when live account state invalidates a token.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRecordNotFound is returned by Store implementations for missing rows.
	ErrRecordNotFound = errors.New("refresh record not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// StaleRefreshTokenError carries retry metadata for the grace-period branch.
type StaleRefreshTokenError struct {
	FamilyID   FamilyID
	RetryAfter time.Duration
}

func (e *StaleRefreshTokenError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrStaleRefreshToken.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrStaleRefreshToken.Error(), e.RetryAfter)
}

func (e *StaleRefreshTokenError) Unwrap() error { return ErrStaleRefreshToken }

// Kind is the closed set of outcomes callers map to transport responses.
type Kind int

const (
	KindOK Kind = iota
	KindInvalidCredentials
	KindInvalidToken
	KindRefreshTokenNotFound
	KindRefreshTokenExpired
	KindRefreshTokenRevoked
	KindTokenFamilyReused
	KindStaleRefreshToken
	KindSessionRevoked
	KindInternal
)

var kindNames = [...]string{
	KindOK:                   "ok",
	KindInvalidCredentials:   "invalid_credentials",
	KindInvalidToken:         "invalid_token",
	KindRefreshTokenNotFound: "refresh_token_not_found",
	KindRefreshTokenExpired:  "refresh_token_expired",
	KindRefreshTokenRevoked:  "refresh_token_revoked",
	KindTokenFamilyReused:    "token_family_reused",
	KindStaleRefreshToken:    "stale_refresh_token",
	KindSessionRevoked:       "session_revoked",
	KindInternal:             "internal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf classifies err. Anything outside the taxonomy is KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrRefreshTokenNotFound):
		return KindRefreshTokenNotFound
	case errors.Is(err, ErrRefreshTokenExpired):
		return KindRefreshTokenExpired
	case errors.Is(err, ErrRefreshTokenRevoked):
		return KindRefreshTokenRevoked
	case errors.Is(err, ErrTokenFamilyReused):
		return KindTokenFamilyReused
	case errors.Is(err, ErrStaleRefreshToken):
		return KindStaleRefreshToken
	case errors.Is(err, ErrSessionRevoked):
		return KindSessionRevoked
	default:
		return KindInternal
	}
}
