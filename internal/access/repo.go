package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for resource grants.
type Repository interface {
	// UpsertGrant creates the grant or replaces its bitmask; the
	// (resource, target type, target id) triple is the uniqueness key.
	UpsertGrant(ctx context.Context, grant *Grant) error
	// DeleteGrant removes a grant. Returns false when none existed.
	DeleteGrant(ctx context.Context, resourceID uuid.UUID, targetType TargetType, targetID uuid.UUID) (bool, error)
	ListGrants(ctx context.Context, resourceID uuid.UUID) ([]*Grant, error)
	// EffectiveBits resolves, in one consistent query, the union of the
	// key's direct grant and grants to any group the key currently belongs
	// to. Never cached: membership changes take effect on the next call.
	EffectiveBits(ctx context.Context, resourceID, keyID uuid.UUID) (Bits, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// UpsertGrant writes the grant through an ON CONFLICT update.
func (r *PGRepository) UpsertGrant(ctx context.Context, grant *Grant) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO resource_grants (id, resource_id, target_type, target_id, bits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (resource_id, target_type, target_id)
		 DO UPDATE SET bits = EXCLUDED.bits, updated_at = EXCLUDED.updated_at`,
		grant.ID, grant.ResourceID, grant.TargetType, grant.TargetID, int32(grant.Bits),
		pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		return err
	}
	grant.CreatedAt = now
	grant.UpdatedAt = now
	return nil
}

// DeleteGrant removes the grant row.
func (r *PGRepository) DeleteGrant(ctx context.Context, resourceID uuid.UUID, targetType TargetType, targetID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM resource_grants WHERE resource_id = $1 AND target_type = $2 AND target_id = $3`,
		resourceID, targetType, targetID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListGrants lists the grants on a resource.
func (r *PGRepository) ListGrants(ctx context.Context, resourceID uuid.UUID) ([]*Grant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, resource_id, target_type, target_id, bits, created_at, updated_at
		 FROM resource_grants WHERE resource_id = $1 ORDER BY created_at`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Grant
	for rows.Next() {
		var g Grant
		var bits int32
		var createdAt, updatedAt pgtype.Timestamptz
		if err := rows.Scan(&g.ID, &g.ResourceID, &g.TargetType, &g.TargetID, &bits, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		g.Bits = Bits(bits)
		g.CreatedAt = createdAt.Time
		g.UpdatedAt = updatedAt.Time
		out = append(out, &g)
	}
	return out, rows.Err()
}

// EffectiveBits unions the direct grant with group grants in one query.
func (r *PGRepository) EffectiveBits(ctx context.Context, resourceID, keyID uuid.UUID) (Bits, error) {
	var bits int32
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(bit_or(g.bits), 0) FROM resource_grants g
		 WHERE g.resource_id = $1 AND (
		   (g.target_type = 'key' AND g.target_id = $2) OR
		   (g.target_type = 'group' AND g.target_id IN (
		     SELECT gm.group_id FROM group_members gm WHERE gm.key_id = $2)))`,
		resourceID, keyID).Scan(&bits)
	if err != nil {
		return 0, err
	}
	return Bits(bits), nil
}

var _ Repository = (*PGRepository)(nil)
