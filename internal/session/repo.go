package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate-io/keygate/internal/platform/db"
	"github.com/keygate-io/keygate/internal/shared"
)

// Repository defines persistence operations for refresh tokens.
type Repository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// RotateAndReplace atomically transitions the row matching digest from
	// issued to rotated iff it is unexpired, links the successor, and
	// inserts the successor row, all in one transaction. Exactly one of two
	// concurrent calls for the same digest can succeed. Returns the rotated
	// predecessor. shared.ErrNotFound means no redeemable row matched.
	RotateAndReplace(ctx context.Context, digest string, successor *RefreshToken, now time.Time) (*RefreshToken, error)
	FindByDigest(ctx context.Context, digest string) (*RefreshToken, error)
	Delete(ctx context.Context, digest string) error
	// DeleteExpired purges rows past their expiry, for the scheduled sweep.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const tokenColumns = `id, lookup_digest, principal_type, principal_id, expires_at, rotated, replaced_by, created_at`

// Create persists a new refresh token record.
func (r *PGRepository) Create(ctx context.Context, token *RefreshToken) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, FALSE, NULL, $6)`,
		token.ID, token.LookupDigest, token.PrincipalType, token.PrincipalID,
		pgtype.Timestamptz{Time: token.ExpiresAt.UTC(), Valid: true},
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrConflict
		}
		return err
	}
	token.CreatedAt = now
	return nil
}

// RotateAndReplace performs the single-use transition. The UPDATE's WHERE
// clause is the atomic "transition iff currently issued" guard.
func (r *PGRepository) RotateAndReplace(ctx context.Context, digest string, successor *RefreshToken, now time.Time) (*RefreshToken, error) {
	var predecessor *RefreshToken
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE refresh_tokens SET rotated = TRUE, replaced_by = $2
			 WHERE lookup_digest = $1 AND NOT rotated AND expires_at > $3
			 RETURNING `+tokenColumns,
			digest, successor.ID, pgtype.Timestamptz{Time: now.UTC(), Valid: true})
		rec, err := scanToken(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		predecessor = rec
		createdAt := now.UTC()
		if _, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, FALSE, NULL, $6)`,
			successor.ID, successor.LookupDigest, rec.PrincipalType, rec.PrincipalID,
			pgtype.Timestamptz{Time: successor.ExpiresAt.UTC(), Valid: true},
			pgtype.Timestamptz{Time: createdAt, Valid: true}); err != nil {
			return err
		}
		successor.PrincipalType = rec.PrincipalType
		successor.PrincipalID = rec.PrincipalID
		successor.CreatedAt = createdAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return predecessor, nil
}

// FindByDigest fetches a token record by its lookup digest.
func (r *PGRepository) FindByDigest(ctx context.Context, digest string) (*RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE lookup_digest = $1`, digest)
	rec, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes a token record, used on logout.
func (r *PGRepository) Delete(ctx context.Context, digest string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE lookup_digest = $1`, digest)
	return err
}

// DeleteExpired purges rows whose expiry is before the cutoff.
func (r *PGRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`,
		pgtype.Timestamptz{Time: before.UTC(), Valid: true})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*RefreshToken, error) {
	var rec RefreshToken
	var expiresAt, createdAt pgtype.Timestamptz
	err := row.Scan(&rec.ID, &rec.LookupDigest, &rec.PrincipalType, &rec.PrincipalID, &expiresAt, &rec.Rotated, &rec.ReplacedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.ExpiresAt = expiresAt.Time
	rec.CreatedAt = createdAt.Time
	return &rec, nil
}

var _ Repository = (*PGRepository)(nil)
