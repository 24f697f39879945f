package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "chirp").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "chirp"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, username, username_norm, display_name, password_hash,
	password_changed_at, disabled_at, created_at`

// CreateUser inserts a new user row.
func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"

	u := User{
		ID:                in.ID,
		Username:          strings.TrimSpace(in.Username),
		UsernameNorm:      NormalizeUsername(in.Username),
		DisplayName:       strings.TrimSpace(in.DisplayName),
		PasswordHash:      in.PasswordHash,
		PasswordChangedAt: in.Now,
		CreatedAt:         in.Now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL, $6)`,
		u.ID, u.Username, u.UsernameNorm, u.DisplayName, u.PasswordHash, in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetByID loads a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetByID", `id = $1`, id)
}

// GetByUsername loads a user by normalized username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.getOne(ctx, "identity.GetByUsername", `username_norm = $1`, NormalizeUsername(username))
}

// SetPasswordHash stores a new password hash.
func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		 SET password_hash = $2, password_changed_at = $3
		 WHERE id = $1`,
		id, hash, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// Rehash replaces the hash after a parameter upgrade.
func (s *PostgresStore) Rehash(ctx context.Context, id, hash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET password_hash = $2 WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("identity.Rehash: %w", err)
	}
	return nil
}

// Disable stamps disabled_at (idempotent).
func (s *PostgresStore) Disable(ctx context.Context, id string, now time.Time) error {
	const op = "identity.Disable"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		 SET disabled_at = COALESCE(disabled_at, $2)
		 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, arg any) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.table()+` WHERE `+where,
		arg,
	).Scan(
		&u.ID,
		&u.Username,
		&u.UsernameNorm,
		&u.DisplayName,
		&u.PasswordHash,
		&u.PasswordChangedAt,
		&u.DisabledAt,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.PasswordChangedAt = u.PasswordChangedAt.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
