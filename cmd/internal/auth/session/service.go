package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chirp/cmd/identity/ids"
	"chirp/cmd/security/token"
)

// maxSecretLen bounds presented refresh secrets (128 random bytes, hex).
const maxSecretLen = 2 * 128

// staleRetryAfter is the retry hint attached to StaleRefreshTokenError.
const staleRetryAfter = time.Second

// Authority implements the session state machine: login, refresh rotation
// with family-based reuse detection, logout, and mass revocation.
//
// Authority is safe for concurrent use. It holds no mutable state of its own;
// all coordination happens through Store.RevokeIfActive.
type Authority struct {
	cfg      Config
	store    Store
	users    UserLookup
	hasher   token.Hasher
	codec    *AccessTokenCodec
	clock    Clock
	notifier Notifier
	log      *slog.Logger
	metrics  *Metrics
}

// Deps are the collaborators an Authority is built from.
// Store, Users and Codec are required; the rest have usable zero values.
type Deps struct {
	Store    Store
	Users    UserLookup
	Hasher   token.Hasher
	Codec    *AccessTokenCodec
	Clock    Clock
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Issued is the result of a login or a successful rotation.
// RefreshToken is the plaintext secret; it is returned exactly once.
type Issued struct {
	UserID       UserID
	FamilyID     FamilyID
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewAuthority validates cfg and wires an Authority.
func NewAuthority(cfg Config, d Deps) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Store == nil || d.Users == nil || d.Codec == nil {
		return nil, fmt.Errorf("%w: store, users and codec are required", ErrConfig)
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Authority{
		cfg:      cfg,
		store:    d.Store,
		users:    d.Users,
		hasher:   d.Hasher,
		codec:    d.Codec,
		clock:    d.Clock,
		notifier: d.Notifier,
		log:      d.Logger,
		metrics:  d.Metrics,
	}, nil
}

// Login starts a new token family for an already-authenticated user.
func (a *Authority) Login(ctx context.Context, userID UserID, displayName, username string) (Issued, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()

	now := a.clock.Now()
	familyID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, fmt.Errorf("login: family id: %w", err)
	}

	secret, rec, err := a.mintRecord(now, userID, FamilyID(familyID))
	if err != nil {
		return Issued{}, fmt.Errorf("login: %w", err)
	}
	if err := a.store.Save(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("login: %w", err)
	}

	access, accessExp, err := a.codec.Issue(userID, displayName, username)
	if err != nil {
		return Issued{}, fmt.Errorf("login: %w", err)
	}

	a.metrics.login()
	a.log.Info("auth.login.issue",
		slog.String("user_id", string(userID)),
		slog.String("family_id", familyID),
	)

	return Issued{
		UserID:       userID,
		FamilyID:     rec.FamilyID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: secret,
		RefreshExp:   rec.ExpiresAt,
	}, nil
}

// Refresh exchanges a refresh secret for a new access token and a new secret
// in the same family, retiring the presented one.
//
// Outcomes other than success: ErrRefreshTokenNotFound, ErrRefreshTokenExpired,
// ErrRefreshTokenRevoked, *StaleRefreshTokenError, ErrTokenFamilyReused,
// ErrSessionRevoked, or a wrapped store fault.
func (a *Authority) Refresh(ctx context.Context, secret string) (Issued, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()

	secret = strings.TrimSpace(secret)
	if secret == "" || len(secret) > maxSecretLen {
		a.metrics.refreshOutcome(outcomeNotFound)
		return Issued{}, ErrRefreshTokenNotFound
	}

	now := a.clock.Now()
	hash := TokenHash(a.hasher.Hash(secret))

	rec, err := a.store.FindByHash(ctx, hash)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		a.metrics.refreshOutcome(outcomeNotFound)
		return Issued{}, ErrRefreshTokenNotFound
	case err != nil:
		return Issued{}, a.refreshFault(err)
	case !token.Equal(string(rec.TokenHash), string(hash)):
		a.metrics.refreshOutcome(outcomeNotFound)
		return Issued{}, ErrRefreshTokenNotFound
	}

	// Expiry wins over every other verdict.
	if rec.ExpiredAt(now) {
		a.metrics.refreshOutcome(outcomeExpired)
		return Issued{}, ErrRefreshTokenExpired
	}
	if rec.IsRevoked && rec.RevocationReason != ReasonRotation {
		a.metrics.refreshOutcome(outcomeRevoked)
		return Issued{}, ErrRefreshTokenRevoked
	}

	var user UserState
	if !rec.IsRevoked {
		user, err = a.users.LookupUserState(ctx, rec.UserID)
		if err != nil {
			return Issued{}, a.refreshFault(err)
		}
		if !user.Exists || user.Disabled {
			a.metrics.refreshOutcome(outcomeRevoked)
			return Issued{}, ErrSessionRevoked
		}
	}

	var (
		issued  Issued
		verdict error
		reused  int64
	)
	err = a.inTx(ctx, func(ctx context.Context, tx Store) error {
		won, err := tx.RevokeIfActive(ctx, hash, now, ReasonRotation)
		if err != nil {
			return err
		}
		if won {
			issued, err = a.rotate(ctx, tx, rec, user, now)
			return err
		}
		verdict, reused, err = a.resolveLost(ctx, tx, hash, now)
		return err
	})
	if err != nil {
		return Issued{}, a.refreshFault(err)
	}

	switch {
	case verdict == nil:
		a.metrics.refreshOutcome(outcomeRotated)
		a.log.Info("auth.refresh.rotate",
			slog.String("user_id", string(rec.UserID)),
			slog.String("family_id", string(rec.FamilyID)),
		)
		return issued, nil
	case errors.Is(verdict, ErrTokenFamilyReused):
		a.metrics.refreshOutcome(outcomeReused)
		a.metrics.reuse()
		a.metrics.revokedRecords(ReasonReuseDetected, reused)
		a.log.Warn("auth.refresh.reuse_detected",
			slog.String("user_id", string(rec.UserID)),
			slog.String("family_id", string(rec.FamilyID)),
			slog.Any("token_hash", hash),
			slog.Int64("revoked", reused),
		)
		a.notify(rec.UserID, ReasonReuseDetected)
	case errors.Is(verdict, ErrStaleRefreshToken):
		a.metrics.refreshOutcome(outcomeStale)
		a.log.Info("auth.refresh.stale",
			slog.String("user_id", string(rec.UserID)),
			slog.String("family_id", string(rec.FamilyID)),
		)
	case errors.Is(verdict, ErrRefreshTokenExpired):
		a.metrics.refreshOutcome(outcomeExpired)
	default:
		a.metrics.refreshOutcome(outcomeRevoked)
	}
	return Issued{}, verdict
}

// rotate saves the successor record and issues its access token.
// It runs after this caller won the compare-and-swap.
func (a *Authority) rotate(ctx context.Context, tx Store, prev Record, user UserState, now time.Time) (Issued, error) {
	secret, next, err := a.mintRecord(now, prev.UserID, prev.FamilyID)
	if err != nil {
		return Issued{}, err
	}
	if err := tx.Save(ctx, next); err != nil {
		return Issued{}, err
	}

	access, accessExp, err := a.codec.Issue(prev.UserID, user.DisplayName, user.Username)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		UserID:       prev.UserID,
		FamilyID:     prev.FamilyID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: secret,
		RefreshExp:   next.ExpiresAt,
	}, nil
}

// resolveLost classifies a presentation whose compare-and-swap failed.
//
// The returned verdict is the caller-facing error; a non-nil err is a store
// fault and rolls the transaction back. A reuse verdict is returned with a
// nil err so the family revocation commits.
func (a *Authority) resolveLost(ctx context.Context, tx Store, hash TokenHash, now time.Time) (verdict error, revoked int64, err error) {
	cur, err := tx.FindByHash(ctx, hash)
	if err != nil {
		return nil, 0, err
	}

	if !cur.IsRevoked {
		if cur.ExpiredAt(now) {
			return ErrRefreshTokenExpired, 0, nil
		}
		return nil, 0, fmt.Errorf("refresh record %s neither revocable nor revoked", hash.Short())
	}
	if cur.RevocationReason != ReasonRotation {
		return ErrRefreshTokenRevoked, 0, nil
	}

	latest, err := tx.FindLatestRevokedInFamily(ctx, cur.FamilyID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, 0, err
	}
	if errors.Is(err, ErrRecordNotFound) {
		latest = cur
	}

	// Amnesty covers only a duplicate of the most recent rotation.
	if latest.TokenHash == cur.TokenHash && latest.RevokedAt != nil &&
		now.Sub(*latest.RevokedAt) <= a.cfg.GracePeriod {
		return &StaleRefreshTokenError{FamilyID: cur.FamilyID, RetryAfter: staleRetryAfter}, 0, nil
	}

	n, err := tx.RevokeFamily(ctx, cur.FamilyID, now, ReasonReuseDetected)
	if err != nil {
		return nil, 0, err
	}
	return ErrTokenFamilyReused, n, nil
}

// Logout revokes the single record behind secret. Unknown, expired or
// already-revoked secrets are a successful no-op.
func (a *Authority) Logout(ctx context.Context, secret string) error {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()

	secret = strings.TrimSpace(secret)
	if secret == "" || len(secret) > maxSecretLen {
		return nil
	}

	hash := TokenHash(a.hasher.Hash(secret))
	ok, err := a.store.RevokeIfActive(ctx, hash, a.clock.Now(), ReasonLogout)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if ok {
		a.metrics.revokedRecords(ReasonLogout, 1)
		a.log.Info("auth.logout", slog.Any("token_hash", hash))
	}
	return nil
}

// RevokeAllForUser revokes every active record of userID and returns how
// many changed. Reapplying is a no-op. Live connections are told to log out
// when anything was revoked.
func (a *Authority) RevokeAllForUser(ctx context.Context, userID UserID, reason RevocationReason) (int64, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()

	if reason == "" {
		reason = ReasonLogoutAll
	}

	n, err := a.store.RevokeAllForUser(ctx, userID, a.clock.Now(), reason)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}

	a.metrics.revokedRecords(reason, n)
	a.log.Info("auth.revoke_all",
		slog.String("user_id", string(userID)),
		slog.String("reason", string(reason)),
		slog.Int64("revoked", n),
	)
	if n > 0 {
		a.notify(userID, reason)
	}
	return n, nil
}

// Validate verifies an access token without I/O.
// Every failure is ErrInvalidToken; the cause is logged at debug level.
func (a *Authority) Validate(raw string) (Principal, error) {
	p, err := a.codec.Verify(raw)
	if err != nil {
		a.log.Debug("auth.access.invalid", slog.String("cause", err.Error()))
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

// PurgeExpired deletes records that are both expired and revoked.
func (a *Authority) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()

	n, err := a.store.DeleteExpired(ctx, a.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return n, nil
}

func (a *Authority) mintRecord(now time.Time, userID UserID, family FamilyID) (string, Record, error) {
	secret, err := token.GenerateSecret(a.cfg.RefreshTokenBytes)
	if err != nil {
		return "", Record{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return "", Record{}, err
	}

	return secret, Record{
		ID:        RecordID(id),
		TokenHash: TokenHash(a.hasher.Hash(secret)),
		UserID:    userID,
		FamilyID:  family,
		ExpiresAt: now.Add(a.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}, nil
}

func (a *Authority) inTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if txs, ok := a.store.(TxStore); ok {
		return txs.InTx(ctx, fn)
	}
	return fn(ctx, a.store)
}

func (a *Authority) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.StoreTimeout)
}

func (a *Authority) refreshFault(err error) error {
	a.metrics.refreshOutcome(outcomeError)
	a.log.Error("auth.refresh.fail", slog.String("err", err.Error()))
	return fmt.Errorf("refresh: %w", err)
}

// notify pushes the forced-logout notice without blocking the caller.
func (a *Authority) notify(userID UserID, reason RevocationReason) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.NotifyTimeout)
		defer cancel()

		if err := a.notifier.NotifySessionRevoked(ctx, userID, noticeFor(reason)); err != nil {
			a.metrics.notifyFailure()
			a.log.Warn("auth.notify.fail",
				slog.String("user_id", string(userID)),
				slog.String("reason", string(reason)),
				slog.String("err", err.Error()),
			)
		}
	}()
}
