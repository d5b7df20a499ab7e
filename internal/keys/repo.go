package keys

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate-io/keygate/internal/platform/db"
	"github.com/keygate-io/keygate/internal/shared"
)

// TxRepository exposes the mutations available inside a key transaction.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Key, error)
	Insert(ctx context.Context, key *Key) error
	// MarkRotated deactivates the predecessor and links its successor in a
	// single conditional update. Returns false when the predecessor was not
	// active anymore, i.e. a concurrent rotation won.
	MarkRotated(ctx context.Context, predecessor, successor uuid.UUID) (bool, error)
	// SetActive flips the active flag of a single key iff it differs.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
	// ChildrenOf returns the ids of keys whose parent is in parents.
	ChildrenOf(ctx context.Context, parents []uuid.UUID) ([]uuid.UUID, error)
	// DeactivateAll sets active=false on every listed key.
	DeactivateAll(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Repository defines persistence operations for the keys module.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Key, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Key, error)
	ListByInitialAuthor(ctx context.Context, root uuid.UUID) ([]*Key, error)
	// ConsumeUse atomically increments the use counter iff the key is active
	// and under its limit. Returns false when the conditional update matched
	// no row.
	ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error)
	// ActiveOrphans lists active keys whose parent is inactive. Used by the
	// convergence sweep to catch children minted during a cascade.
	ActiveOrphans(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const keyColumns = `id, owner_id, variant, label, secret_hash, permissions, active,
	issued_by, parent_id, initial_author, use_limit, use_count, device_limit,
	rotated_from, rotated_to, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction so cascade traversal
// and mint/rotate mutations see one consistent snapshot.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{q: tx})
	})
}

// Get fetches a key by identifier.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Key, error) {
	return getKey(ctx, r.pool, id)
}

// ListByOwner lists every key rooted at one owner, oldest first.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+keyColumns+` FROM keys WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectKeys(rows)
}

// ListByInitialAuthor lists the hierarchy below one root Primary key.
func (r *PGRepository) ListByInitialAuthor(ctx context.Context, root uuid.UUID) ([]*Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+keyColumns+` FROM keys WHERE initial_author = $1 ORDER BY created_at`, root)
	if err != nil {
		return nil, err
	}
	return collectKeys(rows)
}

// ConsumeUse performs the atomic guarded increment. The condition and the
// increment are one statement so concurrent redemptions can never jointly
// exceed the limit.
func (r *PGRepository) ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE keys SET use_count = use_count + 1, updated_at = NOW()
		 WHERE id = $1 AND active AND (use_limit IS NULL OR use_count < use_limit)`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ActiveOrphans lists active keys whose parent chain was deactivated
// underneath them.
func (r *PGRepository) ActiveOrphans(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT c.id FROM keys c JOIN keys p ON c.parent_id = p.id
		 WHERE c.active AND NOT p.active LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTxRepository struct {
	q querier
}

func (t *pgTxRepository) Get(ctx context.Context, id uuid.UUID) (*Key, error) {
	return getKey(ctx, t.q, id)
}

func (t *pgTxRepository) Insert(ctx context.Context, key *Key) error {
	now := time.Now().UTC()
	_, err := t.q.Exec(ctx,
		`INSERT INTO keys (`+keyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
		key.ID, key.OwnerID, key.Variant, key.Label, key.SecretHash, key.Permissions.Names(), key.Active,
		key.IssuedBy, key.ParentID, key.InitialAuthor, key.UseLimit, key.UseCount, key.DeviceLimit,
		key.RotatedFrom, key.RotatedTo, pgtype.Timestamptz{Time: now, Valid: true})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrConflict
		}
		return err
	}
	key.CreatedAt = now
	key.UpdatedAt = now
	return nil
}

func (t *pgTxRepository) MarkRotated(ctx context.Context, predecessor, successor uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE keys SET active = FALSE, rotated_to = $2, updated_at = NOW()
		 WHERE id = $1 AND active AND rotated_to IS NULL`, predecessor, successor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTxRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE keys SET active = $2, updated_at = NOW() WHERE id = $1 AND active <> $2`, id, active)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTxRepository) ChildrenOf(ctx context.Context, parents []uuid.UUID) ([]uuid.UUID, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT id FROM keys WHERE parent_id = ANY($1)`, parents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTxRepository) DeactivateAll(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE keys SET active = FALSE, updated_at = NOW() WHERE id = ANY($1) AND active`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func getKey(ctx context.Context, q querier, id uuid.UUID) (*Key, error) {
	row := q.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE id = $1`, id)
	key, err := scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

func collectKeys(rows pgx.Rows) ([]*Key, error) {
	defer rows.Close()
	var out []*Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func scanKey(row pgx.Row) (*Key, error) {
	var key Key
	var perms []string
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&key.ID, &key.OwnerID, &key.Variant, &key.Label, &key.SecretHash, &perms, &key.Active,
		&key.IssuedBy, &key.ParentID, &key.InitialAuthor, &key.UseLimit, &key.UseCount, &key.DeviceLimit,
		&key.RotatedFrom, &key.RotatedTo, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	key.Permissions = shared.NewPermissionSet(perms...)
	key.CreatedAt = createdAt.Time
	key.UpdatedAt = updatedAt.Time
	return &key, nil
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)
