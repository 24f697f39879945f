package session

import "context"

// Notifier pushes a forced-logout notice to a user's live connections.
//
// Delivery is best effort. The authority never waits on it and never fails
// an operation because of it.
type Notifier interface {
	NotifySessionRevoked(ctx context.Context, userID UserID, message string) error
}

// NopNotifier drops every notice.
type NopNotifier struct{}

// NotifySessionRevoked implements Notifier.
func (NopNotifier) NotifySessionRevoked(context.Context, UserID, string) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID UserID, message string) error

// NotifySessionRevoked implements Notifier.
func (f NotifierFunc) NotifySessionRevoked(ctx context.Context, userID UserID, message string) error {
	return f(ctx, userID, message)
}

// Notice texts sent with forced logouts.
const (
	NoticeReuseDetected   = "Your session was ended because a sign-in token was used twice. Please sign in again."
	NoticeLogoutAll       = "You were signed out on all devices."
	NoticePasswordChanged = "Your password was changed. Please sign in again."
	NoticeAccountDisabled = "This account has been disabled."
)

func noticeFor(reason RevocationReason) string {
	switch reason {
	case ReasonReuseDetected:
		return NoticeReuseDetected
	case ReasonPasswordChanged:
		return NoticePasswordChanged
	case ReasonAccountDisabled:
		return NoticeAccountDisabled
	default:
		return NoticeLogoutAll
	}
}
