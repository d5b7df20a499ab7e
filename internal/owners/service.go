package owners

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/credential"
	"github.com/keygate-io/keygate/internal/shared"
)

// Service wraps owner account rules.
type Service struct {
	repo     Repository
	hasher   credential.Hasher
	recorder shared.AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, hasher credential.Hasher, recorder shared.AuditRecorder) *Service {
	return &Service{repo: repo, hasher: hasher, recorder: recorder}
}

// Register creates an owner account with a hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (*Owner, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	owner := &Owner{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: digest,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, owner); err != nil {
		return nil, err
	}
	if err := s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(shared.PrincipalOwner),
		ActorID:   owner.ID.String(),
		Action:    shared.AuditOwnerRegister,
		Subject:   "owner",
		SubjectID: owner.ID.String(),
	}); err != nil {
		return nil, err
	}
	return owner, nil
}

// Authenticate validates email/password credentials. The failure is the
// same generic error whether the account is unknown, inactive, or the
// password is wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Owner, error) {
	owner, err := s.repo.FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	if !owner.IsActive {
		return nil, shared.ErrUnauthorized
	}
	if !s.hasher.Verify(password, owner.PasswordHash) {
		return nil, shared.ErrUnauthorized
	}
	return owner, nil
}

// Get loads an owner by identifier.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Owner, error) {
	return s.repo.FindByID(ctx, id)
}
