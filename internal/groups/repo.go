package groups

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

// Repository defines persistence operations for groups and keychains.
type Repository interface {
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	AddGroupMember(ctx context.Context, groupID, keyID uuid.UUID) error
	RemoveGroupMember(ctx context.Context, groupID, keyID uuid.UUID) error
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)

	CreateKeychain(ctx context.Context, keychain *Keychain) error
	GetKeychain(ctx context.Context, id uuid.UUID) (*Keychain, error)
	ListKeychains(ctx context.Context, ownerID uuid.UUID) ([]*Keychain, error)
	DeleteKeychain(ctx context.Context, id uuid.UUID) error
	AddKeychainMember(ctx context.Context, keychainID, keyID uuid.UUID) error
	RemoveKeychainMember(ctx context.Context, keychainID, keyID uuid.UUID) error
	ListKeychainMembers(ctx context.Context, keychainID uuid.UUID) ([]uuid.UUID, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateGroup persists a new group.
func (r *PGRepository) CreateGroup(ctx context.Context, group *Group) error {
	return r.insertNamed(ctx, `INSERT INTO groups (id, owner_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`, group.ID, group.OwnerID, group.Name, &group.CreatedAt, &group.UpdatedAt)
}

// GetGroup fetches a group by identifier.
func (r *PGRepository) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	var g Group
	var createdAt, updatedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `SELECT id, owner_id, name, created_at, updated_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	g.CreatedAt = createdAt.Time
	g.UpdatedAt = updatedAt.Time
	return &g, nil
}

// ListGroups lists an owner's groups.
func (r *PGRepository) ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, name, created_at, updated_at FROM groups WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Group
	for rows.Next() {
		var g Group
		var createdAt, updatedAt pgtype.Timestamptz
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		g.CreatedAt = createdAt.Time
		g.UpdatedAt = updatedAt.Time
		out = append(out, &g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a group; membership rows cascade in the schema.
func (r *PGRepository) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

// AddGroupMember inserts a membership row. Duplicate membership is a
// conflict.
func (r *PGRepository) AddGroupMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO group_members (group_id, key_id, created_at) VALUES ($1, $2, NOW())`, groupID, keyID)
	if err != nil && db.IsUniqueViolation(err) {
		return shared.ErrConflict
	}
	return err
}

// RemoveGroupMember deletes a membership row. Removal is immediately
// effective for grant resolution.
func (r *PGRepository) RemoveGroupMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND key_id = $2`, groupID, keyID)
	return err
}

// ListGroupMembers lists the key ids in a group.
func (r *PGRepository) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return r.listMembers(ctx, `SELECT key_id FROM group_members WHERE group_id = $1 ORDER BY created_at`, groupID)
}

// CreateKeychain persists a new keychain.
func (r *PGRepository) CreateKeychain(ctx context.Context, keychain *Keychain) error {
	return r.insertNamed(ctx, `INSERT INTO keychains (id, owner_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`, keychain.ID, keychain.OwnerID, keychain.Name, &keychain.CreatedAt, &keychain.UpdatedAt)
}

// GetKeychain fetches a keychain by identifier.
func (r *PGRepository) GetKeychain(ctx context.Context, id uuid.UUID) (*Keychain, error) {
	var k Keychain
	var createdAt, updatedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `SELECT id, owner_id, name, created_at, updated_at FROM keychains WHERE id = $1`, id).
		Scan(&k.ID, &k.OwnerID, &k.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	k.CreatedAt = createdAt.Time
	k.UpdatedAt = updatedAt.Time
	return &k, nil
}

// ListKeychains lists an owner's keychains.
func (r *PGRepository) ListKeychains(ctx context.Context, ownerID uuid.UUID) ([]*Keychain, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, name, created_at, updated_at FROM keychains WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Keychain
	for rows.Next() {
		var k Keychain
		var createdAt, updatedAt pgtype.Timestamptz
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Time
		k.UpdatedAt = updatedAt.Time
		out = append(out, &k)
	}
	return out, rows.Err()
}

// DeleteKeychain removes a keychain.
func (r *PGRepository) DeleteKeychain(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM keychains WHERE id = $1`, id)
	return err
}

// AddKeychainMember inserts a membership row.
func (r *PGRepository) AddKeychainMember(ctx context.Context, keychainID, keyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO keychain_members (keychain_id, key_id, created_at) VALUES ($1, $2, NOW())`, keychainID, keyID)
	if err != nil && db.IsUniqueViolation(err) {
		return shared.ErrConflict
	}
	return err
}

// RemoveKeychainMember deletes a membership row.
func (r *PGRepository) RemoveKeychainMember(ctx context.Context, keychainID, keyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM keychain_members WHERE keychain_id = $1 AND key_id = $2`, keychainID, keyID)
	return err
}

// ListKeychainMembers lists the key ids in a keychain.
func (r *PGRepository) ListKeychainMembers(ctx context.Context, keychainID uuid.UUID) ([]uuid.UUID, error) {
	return r.listMembers(ctx, `SELECT key_id FROM keychain_members WHERE keychain_id = $1 ORDER BY created_at`, keychainID)
}

func (r *PGRepository) insertNamed(ctx context.Context, sql string, id, ownerID uuid.UUID, name string, createdAt, updatedAt *time.Time) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, sql, id, ownerID, name, pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrConflict
		}
		return err
	}
	*createdAt = now
	*updatedAt = now
	return nil
}

func (r *PGRepository) listMembers(ctx context.Context, sql string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var keyID uuid.UUID
		if err := rows.Scan(&keyID); err != nil {
			return nil, err
		}
		out = append(out, keyID)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
