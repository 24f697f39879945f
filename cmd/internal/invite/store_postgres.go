package invite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// inviteColumns is the projection every query scans with scanInvite.
const inviteColumns = `id, created_by, created_at, expires_at, max_uses, used_count, revoked_at, note, consumed_at, consumed_by`

// PostgresStore persists invites in <schema>.invites. The pool is owned by
// the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default "chirp").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("%w: schema %q", ErrInvalidInput, schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
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
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "invites"}.Sanitize()
}

func scanInvite(row pgx.Row) (Invite, error) {
	var out Invite
	err := row.Scan(
		&out.ID,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	return out, err
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}
	if in.Note != nil && len(*in.Note) > maxNoteLen {
		return Invite{}, ErrInvalidInput
	}

	return scanInvite(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, token_hash, created_by, created_at, expires_at, max_uses, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+inviteColumns,
		in.ID, in.TokenHash, in.CreatedBy, in.CreatedAt, in.ExpiresAt, in.MaxUses, in.Note,
	))
}

// GetByTokenHash implements Store.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}
	return scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+s.table()+` WHERE token_hash = $1`,
		tokenHash,
	))
}

// Consume implements Store with one guarded UPDATE; concurrent callers
// racing for the last use are serialized by the row lock.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if strings.TrimSpace(in.TokenHash) == "" || in.ConsumedBy == nil {
		return Invite{}, ErrInvalidInput
	}

	inv, err := scanInvite(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET used_count = used_count + 1,
		        consumed_at = $1,
		        consumed_by = $2
		  WHERE token_hash = $3
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		in.Now, in.ConsumedBy, in.TokenHash,
	))
	if !errors.Is(err, ErrNotFound) {
		return inv, err
	}

	// Nothing matched the guard: unknown hash, or known but spent.
	if _, err := s.GetByTokenHash(ctx, in.TokenHash); err != nil {
		return Invite{}, err
	}
	return Invite{}, ErrNotActive
}

// Revoke marks the invite unusable. Revoking twice keeps the first timestamp.
func (s *PostgresStore) Revoke(ctx context.Context, in RevokeRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1
		    AND ($3::text IS NULL OR created_by = $3)`,
		in.ID, in.Now, in.CreatedBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
