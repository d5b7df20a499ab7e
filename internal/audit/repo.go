package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit timeline.
type Repository interface {
	Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
}

// PGRepository queries audit_events directly.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository returns a Postgres-backed audit repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns a slice of the timeline, newest first. Filters with zero
// values are ignored.
func (r *PGRepository) Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < $%d", filters.To)
	}
	if v := strings.TrimSpace(filters.ActorType); v != "" {
		add("actor_type = $%d", v)
	}
	if v := strings.TrimSpace(filters.ActorID); v != "" {
		add("actor_id = $%d", v)
	}
	if v := strings.TrimSpace(filters.Action); v != "" {
		add("action = $%d", v)
	}
	if v := strings.TrimSpace(filters.Subject); v != "" {
		add("subject = $%d", v)
	}
	if v := strings.TrimSpace(filters.SubjectID); v != "" {
		add("subject_id = $%d", v)
	}

	query := `SELECT id, actor_type, actor_id, action, subject, subject_id, meta, occurred_at FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry    Entry
		metaJSON []byte
		at       time.Time
	)
	if err := row.Scan(&entry.ID, &entry.ActorType, &entry.ActorID, &entry.Action, &entry.Subject, &entry.SubjectID, &metaJSON, &at); err != nil {
		return Entry{}, err
	}
	entry.At = at
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

var _ Repository = (*PGRepository)(nil)
