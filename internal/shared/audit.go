package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit action names. auth.replay is the distinguished security event for
// a redemption attempt against an already-rotated refresh token.
const (
	AuditOwnerRegister = "owner.register"
	AuditLogin         = "auth.login"
	AuditRedeem        = "auth.redeem"
	AuditRefresh       = "auth.refresh"
	AuditLogout        = "auth.logout"
	AuditReplay        = "auth.replay"

	AuditKeyMint       = "key.mint"
	AuditKeyRotate     = "key.rotate"
	AuditKeyActivate   = "key.activate"
	AuditKeyDeactivate = "key.deactivate"

	AuditGrantUpsert = "grant.upsert"
	AuditGrantRevoke = "grant.revoke"

	AuditGroupChange = "group.change"

	AuditResourceCreate  = "resource.create"
	AuditResourceComment = "resource.comment"
)

// AuditEvent represents a record stored in audit_events.
type AuditEvent struct {
	ActorType string
	ActorID   string
	Action    string
	Subject   string
	SubjectID string
	Meta      map[string]any
	At        time.Time
}

// AuditRecorder is the write-only audit capability consumed by the core.
// Record is called synchronously before a state-changing operation reports
// success.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// PGAuditRecorder writes records into audit_events.
type PGAuditRecorder struct {
	pool *pgxpool.Pool
}

// NewPGAuditRecorder returns a new PGAuditRecorder.
func NewPGAuditRecorder(pool *pgxpool.Pool) *PGAuditRecorder {
	return &PGAuditRecorder{pool: pool}
}

// Record persists the event.
func (r *PGAuditRecorder) Record(ctx context.Context, event AuditEvent) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if event.Action == "" || event.Subject == "" || event.SubjectID == "" {
		return errors.New("audit event requires action/subject/subject_id")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_events (actor_type, actor_id, action, subject, subject_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`, event.ActorType, event.ActorID, event.Action, event.Subject, event.SubjectID, metaJSON, event.At)
	return err
}

var _ AuditRecorder = (*PGAuditRecorder)(nil)
