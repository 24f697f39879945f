package identity

import (
	"errors"

	"chirp/cmd/internal/auth/session"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrNotActive    = errors.New("not_active")

	// ErrInvalidCredentials covers unknown usernames, wrong passwords and
	// disabled accounts alike so login does not reveal which accounts
	// exist. It is the session sentinel, so session.KindOf classifies it.
	ErrInvalidCredentials = session.ErrInvalidCredentials
)
