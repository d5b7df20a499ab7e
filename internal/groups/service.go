package groups

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/shared"
)

// KeyDirectory resolves keys visible to an actor; membership additions are
// validated against it so groups can only hold keys from the owner's
// hierarchy.
type KeyDirectory interface {
	Get(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*keys.Key, error)
}

// Service owns group and keychain management. Group operations accept any
// principal holding groups.manage and resolve to its hierarchy owner;
// keychains are an owner-only surface. Cross-owner groups are reported as
// not found.
type Service struct {
	repo     Repository
	keys     KeyDirectory
	recorder shared.AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, keyDir KeyDirectory, recorder shared.AuditRecorder) *Service {
	return &Service{repo: repo, keys: keyDir, recorder: recorder}
}

// CreateGroup creates a group in the actor's hierarchy.
func (s *Service) CreateGroup(ctx context.Context, actor *shared.Principal, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.Invalid("name", "required")
	}
	ownerID, err := s.hierarchyOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	group := &Group{ID: uuid.New(), OwnerID: ownerID, Name: name}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, actor, "group", group.ID, map[string]any{"op": "create", "name": name}); err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups lists the groups of the actor's hierarchy.
func (s *Service) ListGroups(ctx context.Context, actor *shared.Principal) ([]*Group, error) {
	ownerID, err := s.hierarchyOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.ListGroups(ctx, ownerID)
}

// DeleteGroup removes a group and its membership.
func (s *Service) DeleteGroup(ctx context.Context, actor *shared.Principal, id uuid.UUID) error {
	if _, err := s.ownedGroup(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	return s.audit(ctx, actor, "group", id, map[string]any{"op": "delete"})
}

// AddGroupMember puts a key from the owner's hierarchy into a group.
// The grant reach of the group extends to the key immediately.
func (s *Service) AddGroupMember(ctx context.Context, actor *shared.Principal, groupID, keyID uuid.UUID) error {
	if _, err := s.ownedGroup(ctx, actor, groupID); err != nil {
		return err
	}
	if _, err := s.keys.Get(ctx, actor, keyID); err != nil {
		return err
	}
	if err := s.repo.AddGroupMember(ctx, groupID, keyID); err != nil {
		return err
	}
	return s.audit(ctx, actor, "group", groupID, map[string]any{"op": "member_add", "key": keyID.String()})
}

// RemoveGroupMember removes a key from a group, effective immediately.
func (s *Service) RemoveGroupMember(ctx context.Context, actor *shared.Principal, groupID, keyID uuid.UUID) error {
	if _, err := s.ownedGroup(ctx, actor, groupID); err != nil {
		return err
	}
	if err := s.repo.RemoveGroupMember(ctx, groupID, keyID); err != nil {
		return err
	}
	return s.audit(ctx, actor, "group", groupID, map[string]any{"op": "member_remove", "key": keyID.String()})
}

// GroupMembers lists a group's key ids.
func (s *Service) GroupMembers(ctx context.Context, actor *shared.Principal, groupID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.ownedGroup(ctx, actor, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListGroupMembers(ctx, groupID)
}

// GetGroup is the internal lookup used by the sharing layer to pin grant
// targets to the resource owner's hierarchy. It performs no actor check.
func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// CreateKeychain creates a keychain for the owner.
func (s *Service) CreateKeychain(ctx context.Context, actor *shared.Principal, name string) (*Keychain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.Invalid("name", "required")
	}
	keychain := &Keychain{ID: uuid.New(), OwnerID: actor.ID, Name: name}
	if err := s.repo.CreateKeychain(ctx, keychain); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, actor, "keychain", keychain.ID, map[string]any{"op": "create", "name": name}); err != nil {
		return nil, err
	}
	return keychain, nil
}

// ListKeychains lists the owner's keychains.
func (s *Service) ListKeychains(ctx context.Context, actor *shared.Principal) ([]*Keychain, error) {
	return s.repo.ListKeychains(ctx, actor.ID)
}

// DeleteKeychain removes a keychain.
func (s *Service) DeleteKeychain(ctx context.Context, actor *shared.Principal, id uuid.UUID) error {
	if _, err := s.ownedKeychain(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.DeleteKeychain(ctx, id); err != nil {
		return err
	}
	return s.audit(ctx, actor, "keychain", id, map[string]any{"op": "delete"})
}

// AddKeychainMember puts a key from the owner's hierarchy into a keychain.
func (s *Service) AddKeychainMember(ctx context.Context, actor *shared.Principal, keychainID, keyID uuid.UUID) error {
	if _, err := s.ownedKeychain(ctx, actor, keychainID); err != nil {
		return err
	}
	if _, err := s.keys.Get(ctx, actor, keyID); err != nil {
		return err
	}
	if err := s.repo.AddKeychainMember(ctx, keychainID, keyID); err != nil {
		return err
	}
	return s.audit(ctx, actor, "keychain", keychainID, map[string]any{"op": "member_add", "key": keyID.String()})
}

// RemoveKeychainMember removes a key from a keychain.
func (s *Service) RemoveKeychainMember(ctx context.Context, actor *shared.Principal, keychainID, keyID uuid.UUID) error {
	if _, err := s.ownedKeychain(ctx, actor, keychainID); err != nil {
		return err
	}
	if err := s.repo.RemoveKeychainMember(ctx, keychainID, keyID); err != nil {
		return err
	}
	return s.audit(ctx, actor, "keychain", keychainID, map[string]any{"op": "member_remove", "key": keyID.String()})
}

// KeychainMembers lists a keychain's key ids.
func (s *Service) KeychainMembers(ctx context.Context, actor *shared.Principal, keychainID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.ownedKeychain(ctx, actor, keychainID); err != nil {
		return nil, err
	}
	return s.repo.ListKeychainMembers(ctx, keychainID)
}

func (s *Service) ownedGroup(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*Group, error) {
	group, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	ownerID, err := s.hierarchyOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	if group.OwnerID != ownerID {
		return nil, shared.ErrNotFound
	}
	return group, nil
}

// hierarchyOwner maps the actor to the owner whose groups it manages: an
// owner is its own scope, a key resolves through its hierarchy.
func (s *Service) hierarchyOwner(ctx context.Context, actor *shared.Principal) (uuid.UUID, error) {
	switch actor.Type {
	case shared.PrincipalOwner:
		return actor.ID, nil
	case shared.PrincipalKey:
		key, err := s.keys.Get(ctx, actor, actor.ID)
		if err != nil {
			return uuid.Nil, shared.ErrUnauthorized
		}
		return key.OwnerID, nil
	default:
		return uuid.Nil, shared.ErrUnauthorized
	}
}

func (s *Service) ownedKeychain(ctx context.Context, actor *shared.Principal, id uuid.UUID) (*Keychain, error) {
	keychain, err := s.repo.GetKeychain(ctx, id)
	if err != nil {
		return nil, err
	}
	if keychain.OwnerID != actor.ID {
		return nil, shared.ErrNotFound
	}
	return keychain, nil
}

func (s *Service) audit(ctx context.Context, actor *shared.Principal, subject string, id uuid.UUID, meta map[string]any) error {
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(actor.Type),
		ActorID:   actor.ID.String(),
		Action:    shared.AuditGroupChange,
		Subject:   subject,
		SubjectID: id.String(),
		Meta:      meta,
	})
}
