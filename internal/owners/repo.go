package owners

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate-io/keygate/internal/platform/db"
	"github.com/keygate-io/keygate/internal/shared"
)

// Repository defines persistence operations for the owners module.
type Repository interface {
	Create(ctx context.Context, owner *Owner) error
	FindByEmail(ctx context.Context, email string) (*Owner, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Owner, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create persists a new owner.
func (r *PGRepository) Create(ctx context.Context, owner *Owner) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO owners (id, email, password_hash, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5)`,
		owner.ID, owner.Email, owner.PasswordHash, owner.IsActive,
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrConflict
		}
		return err
	}
	owner.CreatedAt = now
	owner.UpdatedAt = now
	return nil
}

// FindByEmail fetches an owner by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Owner, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at, updated_at FROM owners WHERE email = $1`, email))
}

// FindByID fetches an owner by identifier.
func (r *PGRepository) FindByID(ctx context.Context, id uuid.UUID) (*Owner, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at, updated_at FROM owners WHERE id = $1`, id))
}

func (r *PGRepository) scanOne(row pgx.Row) (*Owner, error) {
	var owner Owner
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&owner.ID, &owner.Email, &owner.PasswordHash, &owner.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	owner.CreatedAt = createdAt.Time
	owner.UpdatedAt = updatedAt.Time
	return &owner, nil
}

var _ Repository = (*PGRepository)(nil)
