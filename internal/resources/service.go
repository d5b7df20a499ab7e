package resources

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/access"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/shared"
)

// KeyDirectory resolves keys visible to an actor, used to pin a key
// creator's resource to its hierarchy owner.
type KeyDirectory interface {
	Get(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*keys.Key, error)
}

// Service owns content resources and routes every read and interaction
// through the access evaluator.
type Service struct {
	repo      Repository
	evaluator *access.Evaluator
	keys      KeyDirectory
	recorder  shared.AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, evaluator *access.Evaluator, keyDir KeyDirectory, recorder shared.AuditRecorder) *Service {
	return &Service{repo: repo, evaluator: evaluator, keys: keyDir, recorder: recorder}
}

// Create makes a new resource. Requires the content.create global
// permission; Use keys can never hold it. The new resource has no grants.
func (s *Service) Create(ctx context.Context, actor *shared.Principal, title, body string) (*Resource, error) {
	if !actor.Permissions.Has(shared.PermContentCreate) {
		return nil, shared.Forbidden(shared.PermContentCreate)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.Invalid("title", "required")
	}

	resource := &Resource{
		ID:          uuid.New(),
		CreatorType: actor.Type,
		CreatorID:   actor.ID,
		Title:       title,
		Body:        body,
	}
	switch actor.Type {
	case shared.PrincipalOwner:
		resource.OwnerID = actor.ID
	case shared.PrincipalKey:
		key, err := s.keys.Get(ctx, actor, actor.ID)
		if err != nil {
			return nil, shared.ErrUnauthorized
		}
		resource.OwnerID = key.OwnerID
	default:
		return nil, shared.ErrUnauthorized
	}

	if err := s.repo.Create(ctx, resource); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, actor, shared.AuditResourceCreate, resource.ID, map[string]any{"title": title}); err != nil {
		return nil, err
	}
	return resource, nil
}

// Get reads a resource. Requires content.read plus the view bit; without
// view the resource is reported as not found.
func (s *Service) Get(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*Resource, error) {
	resource, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Authorize(ctx, actor, protected(resource), shared.PermContentRead, access.BitView); err != nil {
		return nil, err
	}
	return resource, nil
}

// Comment adds an interaction. Requires content.comment plus the
// interact bit.
func (s *Service) Comment(ctx context.Context, actor *shared.Principal, id uuid.UUID, body string) (*Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, shared.Invalid("body", "required")
	}
	resource, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Authorize(ctx, actor, protected(resource), shared.PermContentComment, access.BitView|access.BitInteract); err != nil {
		return nil, err
	}
	comment := &Comment{
		ID:         uuid.New(),
		ResourceID: resource.ID,
		AuthorType: actor.Type,
		AuthorID:   actor.ID,
		Body:       body,
	}
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, actor, shared.AuditResourceComment, resource.ID, nil); err != nil {
		return nil, err
	}
	return comment, nil
}

// Comments lists a resource's comments under the same authorization as Get.
func (s *Service) Comments(ctx context.Context, actor *shared.Principal, id uuid.UUID) ([]*Comment, error) {
	resource, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Authorize(ctx, actor, protected(resource), shared.PermContentRead, access.BitView); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, resource.ID)
}

// Protected implements the access module's resource directory.
func (s *Service) Protected(ctx context.Context, id uuid.UUID) (access.Protected, error) {
	resource, err := s.repo.Get(ctx, id)
	if err != nil {
		return access.Protected{}, err
	}
	return protected(resource), nil
}

func protected(resource *Resource) access.Protected {
	return access.Protected{ID: resource.ID, OwnerID: resource.OwnerID}
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
