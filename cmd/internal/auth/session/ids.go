package session

import "log/slog"

// UserID identifies an account owner.
type UserID string

// FamilyID groups every refresh record descended from one login.
type FamilyID string

// RecordID identifies one refresh record.
type RecordID string

// TokenHash is the hex digest of a refresh secret. It is the only form of
// the secret that is ever stored or logged.
type TokenHash string

// Short returns a log-safe prefix of the digest.
func (h TokenHash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// LogValue keeps full digests out of structured logs.
func (h TokenHash) LogValue() slog.Value { return slog.StringValue(h.Short()) }
