package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements TxStore using PostgreSQL (chirp.refresh_tokens).
type PostgresStore struct {
	pgRecords
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh record store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgRecords: pgRecords{q: pool}, pool: pool}
}

var _ TxStore = (*PostgresStore)(nil)

// InTx runs fn inside a single transaction. fn's error rolls back.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgRecords{q: tx})
	})
}

// pgRecords holds the SQL shared by the pool-bound and tx-bound stores.
type pgRecords struct {
	q querier
}

const recordColumns = `
	id, token_hash, user_id, family_id,
	expires_at, is_revoked, revoked_at, revocation_reason, created_at`

// Save inserts a new refresh record.
func (s pgRecords) Save(ctx context.Context, rec Record) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO chirp.refresh_tokens (`+recordColumns+`
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)
	`,
		string(rec.ID), string(rec.TokenHash), string(rec.UserID), string(rec.FamilyID),
		rec.ExpiresAt, rec.IsRevoked, rec.RevokedAt, nullIfEmpty(string(rec.RevocationReason)), rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("save refresh record: duplicate token hash: %w", err)
		}
		return fmt.Errorf("save refresh record: %w", err)
	}
	return nil
}

// FindByHash loads a record by digest.
func (s pgRecords) FindByHash(ctx context.Context, hash TokenHash) (Record, error) {
	return scanRecord(s.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM chirp.refresh_tokens
		WHERE token_hash = $1
	`, string(hash)))
}

// RevokeIfActive flips one active record to revoked. The WHERE clause is the
// compare-and-swap: concurrent callers serialize on the row lock and only the
// first sees a row affected.
func (s pgRecords) RevokeIfActive(ctx context.Context, hash TokenHash, now time.Time, reason RevocationReason) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE chirp.refresh_tokens
		SET is_revoked = true,
		    revoked_at = $2,
		    revocation_reason = $3
		WHERE token_hash = $1
		  AND is_revoked = false
		  AND expires_at >= $2
	`, string(hash), now, string(reason))
	if err != nil {
		return false, fmt.Errorf("revoke refresh record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindLatestRevokedInFamily returns the most recently revoked record of a
// family. Ties on revoked_at go to the later-minted id.
func (s pgRecords) FindLatestRevokedInFamily(ctx context.Context, family FamilyID) (Record, error) {
	return scanRecord(s.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM chirp.refresh_tokens
		WHERE family_id = $1
		  AND revoked_at IS NOT NULL
		ORDER BY revoked_at DESC, id DESC
		LIMIT 1
	`, string(family)))
}

// RevokeFamily revokes every active record of a family (idempotent).
func (s pgRecords) RevokeFamily(ctx context.Context, family FamilyID, now time.Time, reason RevocationReason) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE chirp.refresh_tokens
		SET is_revoked = true,
		    revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE family_id = $1
		  AND is_revoked = false
	`, string(family), now, string(reason))
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser revokes every active record of a user (idempotent).
func (s pgRecords) RevokeAllForUser(ctx context.Context, userID UserID, now time.Time, reason RevocationReason) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE chirp.refresh_tokens
		SET is_revoked = true,
		    revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
		  AND is_revoked = false
	`, string(userID), now, string(reason))
	if err != nil {
		return 0, fmt.Errorf("revoke user records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes records that are both expired and revoked.
func (s pgRecords) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM chirp.refresh_tokens
		WHERE is_revoked = true
		  AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id, hash, userID, family string
		reason                   *string
		rec                      Record
	)
	err := row.Scan(
		&id,
		&hash,
		&userID,
		&family,
		&rec.ExpiresAt,
		&rec.IsRevoked,
		&rec.RevokedAt,
		&reason,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan refresh record: %w", err)
	}

	rec.ID = RecordID(id)
	rec.TokenHash = TokenHash(hash)
	rec.UserID = UserID(userID)
	rec.FamilyID = FamilyID(family)
	if reason != nil {
		rec.RevocationReason = RevocationReason(*reason)
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.RevokedAt != nil {
		at := rec.RevokedAt.UTC()
		rec.RevokedAt = &at
	}
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
