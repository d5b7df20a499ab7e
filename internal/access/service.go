package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/groups"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/shared"
)

// KeyDirectory resolves keys visible to an actor.
type KeyDirectory interface {
	Get(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*keys.Key, error)
}

// GroupDirectory resolves groups by identifier.
type GroupDirectory interface {
	GetGroup(ctx context.Context, id uuid.UUID) (*groups.Group, error)
}

// ResourceDirectory resolves the protected view of a resource. Absent
// resources surface shared.ErrNotFound.
type ResourceDirectory interface {
	Protected(ctx context.Context, id uuid.UUID) (Protected, error)
}

// Service owns sharing-grant management. Managing a resource's grants
// requires passing the evaluator with share.manage and the manage_access
// bit, or being the resource owner on the administrative path.
type Service struct {
	repo      Repository
	evaluator *Evaluator
	keys      KeyDirectory
	groups    GroupDirectory
	resources ResourceDirectory
	recorder  shared.AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, evaluator *Evaluator, keyDir KeyDirectory, groupDir GroupDirectory, resourceDir ResourceDirectory, recorder shared.AuditRecorder) *Service {
	return &Service{
		repo:      repo,
		evaluator: evaluator,
		keys:      keyDir,
		groups:    groupDir,
		resources: resourceDir,
		recorder:  recorder,
	}
}

// Grant creates or updates a grant on a resource.
func (s *Service) Grant(ctx context.Context, actor *shared.Principal, resourceID uuid.UUID, targetType TargetType, targetID uuid.UUID, bits Bits) (*Grant, error) {
	resource, err := s.manageable(ctx, actor, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.validateTarget(ctx, resource, targetType, targetID); err != nil {
		return nil, err
	}
	grant := &Grant{
		ID:         uuid.New(),
		ResourceID: resource.ID,
		TargetType: targetType,
		TargetID:   targetID,
		Bits:       bits,
	}
	if err := s.repo.UpsertGrant(ctx, grant); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, actor, shared.AuditGrantUpsert, resource.ID, map[string]any{
		"target_type": string(targetType),
		"target_id":   targetID.String(),
		"bits":        bits.Names(),
	}); err != nil {
		return nil, err
	}
	return grant, nil
}

// Revoke deletes a grant. The target loses visibility on the very next
// evaluation.
func (s *Service) Revoke(ctx context.Context, actor *shared.Principal, resourceID uuid.UUID, targetType TargetType, targetID uuid.UUID) error {
	resource, err := s.manageable(ctx, actor, resourceID)
	if err != nil {
		return err
	}
	removed, err := s.repo.DeleteGrant(ctx, resource.ID, targetType, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return shared.ErrNotFound
	}
	return s.audit(ctx, actor, shared.AuditGrantRevoke, resource.ID, map[string]any{
		"target_type": string(targetType),
		"target_id":   targetID.String(),
	})
}

// List returns the grants on a resource.
func (s *Service) List(ctx context.Context, actor *shared.Principal, resourceID uuid.UUID) ([]*Grant, error) {
	resource, err := s.manageable(ctx, actor, resourceID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListGrants(ctx, resource.ID)
}

func (s *Service) manageable(ctx context.Context, actor *shared.Principal, resourceID uuid.UUID) (Protected, error) {
	resource, err := s.resources.Protected(ctx, resourceID)
	if err != nil {
		return Protected{}, err
	}
	if err := s.evaluator.Authorize(ctx, actor, resource, shared.PermShareManage, BitManageAccess); err != nil {
		return Protected{}, err
	}
	return resource, nil
}

// validateTarget pins grant targets to the resource owner's hierarchy.
func (s *Service) validateTarget(ctx context.Context, resource Protected, targetType TargetType, targetID uuid.UUID) error {
	asOwner := &shared.Principal{Type: shared.PrincipalOwner, ID: resource.OwnerID}
	switch targetType {
	case TargetKey:
		if _, err := s.keys.Get(ctx, asOwner, targetID); err != nil {
			return shared.Invalid("target_id", "key not in resource hierarchy")
		}
	case TargetGroup:
		group, err := s.groups.GetGroup(ctx, targetID)
		if err != nil || group.OwnerID != resource.OwnerID {
			return shared.Invalid("target_id", "group not in resource hierarchy")
		}
	default:
		return shared.Invalid("target_type", "must be key or group")
	}
	return nil
}

func (s *Service) audit(ctx context.Context, actor *shared.Principal, action string, resourceID uuid.UUID, meta map[string]any) error {
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(actor.Type),
		ActorID:   actor.ID.String(),
		Action:    action,
		Subject:   "resource",
		SubjectID: resourceID.String(),
		Meta:      meta,
	})
}
