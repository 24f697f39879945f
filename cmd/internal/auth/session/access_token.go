package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the verified identity carried by an access token.
type Principal struct {
	UserID      UserID
	DisplayName string
	Username    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// accessClaims is the signed payload. "sub" mirrors "id". The standard
// "iat" has whole-second precision, so "iatUs" carries the issue instant in
// Unix microseconds for comparison against password_changed_at.
type accessClaims struct {
	UserID         string `json:"id"`
	DisplayName    string `json:"displayName"`
	Username       string `json:"username"`
	IssuedAtMicros int64  `json:"iatUs"`
	jwt.RegisteredClaims
}

// issuePrecision is the granularity of Principal.IssuedAt. Postgres
// timestamptz stores the same granularity.
const issuePrecision = time.Microsecond

// AccessTokenCodec issues and verifies HS256 access tokens.
//
// It performs no I/O and is safe for concurrent use.
type AccessTokenCodec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	clock    Clock
}

// NewAccessTokenCodec builds a codec from cfg. cfg must already be valid.
func NewAccessTokenCodec(cfg Config, clock Clock) (*AccessTokenCodec, error) {
	if len(cfg.SigningSecret) < 32 {
		return nil, fmt.Errorf("%w: signing secret must be at least 32 bytes", ErrConfig)
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("%w: access ttl must be positive", ErrConfig)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &AccessTokenCodec{
		secret:   []byte(cfg.SigningSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTokenTTL,
		leeway:   cfg.ClockSkew,
		clock:    clock,
	}, nil
}

// Issue signs a token for the given user and returns it with its expiry.
func (c *AccessTokenCodec) Issue(userID UserID, displayName, username string) (string, time.Time, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return "", time.Time{}, errors.New("session: empty user id")
	}

	issued := c.clock.Now().UTC().Truncate(issuePrecision)
	// NumericDate has second precision; exp is derived from the truncated
	// second so the returned expiry matches what Verify reports.
	now := issued.Truncate(time.Second)
	exp := now.Add(c.ttl)

	claims := accessClaims{
		UserID:         string(userID),
		DisplayName:    displayName,
		Username:       username,
		IssuedAtMicros: issued.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   string(userID),
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer, audience, expiry and iat.
//
// Every failure wraps ErrInvalidToken; the wrapped cause is for logs only.
func (c *AccessTokenCodec) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: token not valid", ErrInvalidToken)
	}
	if claims.IssuedAt == nil {
		return Principal{}, fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return Principal{}, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	issued := time.UnixMicro(claims.IssuedAtMicros).UTC()
	if claims.IssuedAtMicros <= 0 || !issued.Truncate(time.Second).Equal(claims.IssuedAt.Time) {
		return Principal{}, fmt.Errorf("%w: iatUs disagrees with iat", ErrInvalidToken)
	}

	return Principal{
		UserID:      UserID(claims.UserID),
		DisplayName: claims.DisplayName,
		Username:    claims.Username,
		IssuedAt:    issued,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}
