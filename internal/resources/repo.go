package resources

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate-io/keygate/internal/shared"
)

// Repository defines persistence operations for the resources module.
type Repository interface {
	Create(ctx context.Context, resource *Resource) error
	Get(ctx context.Context, id uuid.UUID) (*Resource, error)
	AddComment(ctx context.Context, comment *Comment) error
	ListComments(ctx context.Context, resourceID uuid.UUID) ([]*Comment, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create persists a new resource.
func (r *PGRepository) Create(ctx context.Context, resource *Resource) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO resources (id, owner_id, creator_type, creator_id, title, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		resource.ID, resource.OwnerID, resource.CreatorType, resource.CreatorID, resource.Title, resource.Body,
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		return err
	}
	resource.CreatedAt = now
	resource.UpdatedAt = now
	return nil
}

// Get fetches a resource by identifier.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Resource, error) {
	var res Resource
	var createdAt, updatedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, creator_type, creator_id, title, body, created_at, updated_at FROM resources WHERE id = $1`, id).
		Scan(&res.ID, &res.OwnerID, &res.CreatorType, &res.CreatorID, &res.Title, &res.Body, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	res.CreatedAt = createdAt.Time
	res.UpdatedAt = updatedAt.Time
	return &res, nil
}

// AddComment persists a comment.
func (r *PGRepository) AddComment(ctx context.Context, comment *Comment) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO resource_comments (id, resource_id, author_type, author_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.ResourceID, comment.AuthorType, comment.AuthorID, comment.Body,
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		return err
	}
	comment.CreatedAt = now
	return nil
}

// ListComments lists a resource's comments, oldest first.
func (r *PGRepository) ListComments(ctx context.Context, resourceID uuid.UUID) ([]*Comment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, resource_id, author_type, author_id, body, created_at FROM resource_comments
		 WHERE resource_id = $1 ORDER BY created_at`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Comment
	for rows.Next() {
		var c Comment
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.AuthorType, &c.AuthorID, &c.Body, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = createdAt.Time
		out = append(out, &c)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
