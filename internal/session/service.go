package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/credential"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/owners"
	"github.com/keygate-io/keygate/internal/shared"
)

// OwnerDirectory is the slice of the owners module the session core needs.
type OwnerDirectory interface {
	Authenticate(ctx context.Context, email, password string) (*owners.Owner, error)
	Get(ctx context.Context, id uuid.UUID) (*owners.Owner, error)
}

// KeyAuthenticator is the slice of the key lifecycle manager the session
// core needs.
type KeyAuthenticator interface {
	Redeem(ctx context.Context, publicID, secret, fingerprint string) (*keys.Key, error)
	Get(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*keys.Key, error)
}

// SecurityMetrics counts authentication outcomes. It is optional; a nil
// value disables counting.
type SecurityMetrics interface {
	AuthFailure(flow string)
	ReplayDetected()
}

// Service issues and rotates session tokens.
type Service struct {
	owners     OwnerDirectory
	keys       KeyAuthenticator
	repo       Repository
	issuer     *Issuer
	catalog    *shared.PermissionCatalog
	recorder   shared.AuditRecorder
	metrics    SecurityMetrics
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService constructs a new Service.
func NewService(ownerDir OwnerDirectory, keyAuth KeyAuthenticator, repo Repository, issuer *Issuer, catalog *shared.PermissionCatalog, recorder shared.AuditRecorder, metrics SecurityMetrics, refreshTTL time.Duration) *Service {
	return &Service{
		owners:     ownerDir,
		keys:       keyAuth,
		repo:       repo,
		issuer:     issuer,
		catalog:    catalog,
		recorder:   recorder,
		metrics:    metrics,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// LoginOwner authenticates owner credentials and issues a token pair.
func (s *Service) LoginOwner(ctx context.Context, email, password string) (*TokenPair, error) {
	owner, err := s.owners.Authenticate(ctx, email, password)
	if err != nil {
		s.authFailure("login")
		return nil, shared.ErrUnauthorized
	}
	principal := &shared.Principal{
		Type:        shared.PrincipalOwner,
		ID:          owner.ID,
		Permissions: shared.NewPermissionSet(s.catalog.Names()...),
	}
	pair, err := s.issuePair(ctx, principal)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, principal, shared.AuditLogin, nil); err != nil {
		return nil, err
	}
	return pair, nil
}

// RedeemKey authenticates a key's ck_ identifier and secret and issues a
// token pair. Use-count and device limits are enforced by the key
// lifecycle manager during redemption.
func (s *Service) RedeemKey(ctx context.Context, publicID, secret, fingerprint string) (*TokenPair, error) {
	key, err := s.keys.Redeem(ctx, publicID, secret, fingerprint)
	if err != nil {
		s.authFailure("redeem")
		return nil, err
	}
	principal := &shared.Principal{
		Type:        shared.PrincipalKey,
		ID:          key.ID,
		Permissions: key.Permissions.Clone(),
	}
	pair, err := s.issuePair(ctx, principal)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, principal, shared.AuditRedeem, map[string]any{
		"variant": string(key.Variant),
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh redeems a refresh token exactly once and returns a rotated
// pair. A redemption attempt against an already-rotated token is logged
// as a replay security event but fails with the same generic error as
// every other invalid-token case.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	now := s.now().UTC()
	digest := credential.LookupDigest(refreshToken)

	rec, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		s.authFailure("refresh")
		return nil, shared.ErrUnauthorized
	}
	if rec.Rotated {
		if err := s.recordReplay(ctx, rec); err != nil {
			return nil, err
		}
		return nil, shared.ErrUnauthorized
	}
	if !rec.ExpiresAt.After(now) {
		s.authFailure("refresh")
		return nil, shared.ErrUnauthorized
	}

	// Re-freeze the permission set from current principal state; security
	// decisions are never cached across calls.
	principal, err := s.refreshPrincipal(ctx, rec)
	if err != nil {
		s.authFailure("refresh")
		return nil, shared.ErrUnauthorized
	}

	secret, err := credential.GenerateSecret()
	if err != nil {
		return nil, err
	}
	successor := &RefreshToken{
		ID:           uuid.New(),
		LookupDigest: credential.LookupDigest(secret),
		ExpiresAt:    now.Add(s.refreshTTL),
	}
	if _, err := s.repo.RotateAndReplace(ctx, digest, successor, now); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// A concurrent redemption won the single-use transition.
			if err := s.recordReplay(ctx, rec); err != nil {
				return nil, err
			}
			return nil, shared.ErrUnauthorized
		}
		return nil, err
	}

	access, accessExpires, err := s.issuer.Issue(principal)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, principal, shared.AuditRefresh, map[string]any{
		"token":     rec.ID.String(),
		"successor": successor.ID.String(),
	}); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     secret,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// Logout revokes a refresh token. Revoking an unknown token is a no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	digest := credential.LookupDigest(refreshToken)
	rec, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.Delete(ctx, digest); err != nil {
		return err
	}
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(rec.PrincipalType),
		ActorID:   rec.PrincipalID.String(),
		Action:    shared.AuditLogout,
		Subject:   "refresh_token",
		SubjectID: rec.ID.String(),
	})
}

// PurgeExpired removes expired refresh tokens, called by the scheduled
// sweep.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now().UTC())
}

func (s *Service) issuePair(ctx context.Context, principal *shared.Principal) (*TokenPair, error) {
	access, accessExpires, err := s.issuer.Issue(principal)
	if err != nil {
		return nil, err
	}
	secret, err := credential.GenerateSecret()
	if err != nil {
		return nil, err
	}
	refreshExpires := s.now().UTC().Add(s.refreshTTL)
	rec := &RefreshToken{
		ID:            uuid.New(),
		LookupDigest:  credential.LookupDigest(secret),
		PrincipalType: principal.Type,
		PrincipalID:   principal.ID,
		ExpiresAt:     refreshExpires,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     secret,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

// refreshPrincipal rebuilds the principal from current state, rejecting
// inactive principals with the generic failure.
func (s *Service) refreshPrincipal(ctx context.Context, rec *RefreshToken) (*shared.Principal, error) {
	switch rec.PrincipalType {
	case shared.PrincipalOwner:
		owner, err := s.owners.Get(ctx, rec.PrincipalID)
		if err != nil || !owner.IsActive {
			return nil, shared.ErrUnauthorized
		}
		return &shared.Principal{
			Type:        shared.PrincipalOwner,
			ID:          owner.ID,
			Permissions: shared.NewPermissionSet(s.catalog.Names()...),
		}, nil
	case shared.PrincipalKey:
		self := &shared.Principal{Type: shared.PrincipalKey, ID: rec.PrincipalID}
		key, err := s.keys.Get(ctx, self, rec.PrincipalID)
		if err != nil || !key.Active {
			return nil, shared.ErrUnauthorized
		}
		return &shared.Principal{
			Type:        shared.PrincipalKey,
			ID:          key.ID,
			Permissions: key.Permissions.Clone(),
		}, nil
	default:
		return nil, shared.ErrUnauthorized
	}
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, meta map[string]any) error {
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(principal.Type),
		ActorID:   principal.ID.String(),
		Action:    action,
		Subject:   "session",
		SubjectID: principal.ID.String(),
		Meta:      meta,
	})
}

func (s *Service) authFailure(flow string) {
	if s.metrics != nil {
		s.metrics.AuthFailure(flow)
	}
}

func (s *Service) recordReplay(ctx context.Context, rec *RefreshToken) error {
	if s.metrics != nil {
		s.metrics.ReplayDetected()
	}
	s.authFailure("refresh")
	meta := map[string]any{"token": rec.ID.String()}
	if rec.ReplacedBy != nil {
		meta["replaced_by"] = rec.ReplacedBy.String()
	}
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(rec.PrincipalType),
		ActorID:   rec.PrincipalID.String(),
		Action:    shared.AuditReplay,
		Subject:   "refresh_token",
		SubjectID: rec.ID.String(),
		Meta:      meta,
	})
}
