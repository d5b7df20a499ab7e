package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/groups"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/shared"
)

type memoryGrantRepo struct {
	grants  map[uuid.UUID]*Grant
	members map[uuid.UUID][]uuid.UUID // group id -> key ids
}

func newMemoryGrantRepo() *memoryGrantRepo {
	return &memoryGrantRepo{
		grants:  make(map[uuid.UUID]*Grant),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *memoryGrantRepo) UpsertGrant(_ context.Context, grant *Grant) error {
	for _, existing := range r.grants {
		if existing.ResourceID == grant.ResourceID && existing.TargetType == grant.TargetType && existing.TargetID == grant.TargetID {
			existing.Bits = grant.Bits
			grant.ID = existing.ID
			return nil
		}
	}
	cp := *grant
	r.grants[grant.ID] = &cp
	return nil
}

func (r *memoryGrantRepo) DeleteGrant(_ context.Context, resourceID uuid.UUID, targetType TargetType, targetID uuid.UUID) (bool, error) {
	for id, g := range r.grants {
		if g.ResourceID == resourceID && g.TargetType == targetType && g.TargetID == targetID {
			delete(r.grants, id)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryGrantRepo) ListGrants(_ context.Context, resourceID uuid.UUID) ([]*Grant, error) {
	var out []*Grant
	for _, g := range r.grants {
		if g.ResourceID == resourceID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryGrantRepo) EffectiveBits(_ context.Context, resourceID, keyID uuid.UUID) (Bits, error) {
	var mask Bits
	for _, g := range r.grants {
		if g.ResourceID != resourceID {
			continue
		}
		switch g.TargetType {
		case TargetKey:
			if g.TargetID == keyID {
				mask |= g.Bits
			}
		case TargetGroup:
			for _, member := range r.members[g.TargetID] {
				if member == keyID {
					mask |= g.Bits
				}
			}
		}
	}
	return mask, nil
}

type keyDirStub struct {
	visible map[uuid.UUID]bool
}

func (d *keyDirStub) Get(_ context.Context, _ *shared.Principal, id uuid.UUID) (*keys.Key, error) {
	if !d.visible[id] {
		return nil, shared.ErrNotFound
	}
	return &keys.Key{ID: id}, nil
}

type groupDirStub struct {
	groups map[uuid.UUID]*groups.Group
}

func (d *groupDirStub) GetGroup(_ context.Context, id uuid.UUID) (*groups.Group, error) {
	g, ok := d.groups[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return g, nil
}

type resourceDirStub struct {
	resources map[uuid.UUID]Protected
}

func (d *resourceDirStub) Protected(_ context.Context, id uuid.UUID) (Protected, error) {
	res, ok := d.resources[id]
	if !ok {
		return Protected{}, shared.ErrNotFound
	}
	return res, nil
}

type grantRecorderStub struct {
	events []shared.AuditEvent
}

func (r *grantRecorderStub) Record(_ context.Context, event shared.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

type accessFixture struct {
	repo      *memoryGrantRepo
	evaluator *Evaluator
	service   *Service
	keyDir    *keyDirStub
	groupDir  *groupDirStub
	resDir    *resourceDirStub
	recorder  *grantRecorderStub

	ownerID    uuid.UUID
	resourceID uuid.UUID
	resource   Protected
}

func newAccessFixture() *accessFixture {
	f := &accessFixture{
		repo:     newMemoryGrantRepo(),
		keyDir:   &keyDirStub{visible: make(map[uuid.UUID]bool)},
		groupDir: &groupDirStub{groups: make(map[uuid.UUID]*groups.Group)},
		resDir:   &resourceDirStub{resources: make(map[uuid.UUID]Protected)},
		recorder: &grantRecorderStub{},
		ownerID:  uuid.New(),
	}
	f.resourceID = uuid.New()
	f.resource = Protected{ID: f.resourceID, OwnerID: f.ownerID}
	f.resDir.resources[f.resourceID] = f.resource
	f.evaluator = NewEvaluator(f.repo)
	f.service = NewService(f.repo, f.evaluator, f.keyDir, f.groupDir, f.resDir, f.recorder)
	return f
}

func (f *accessFixture) owner() *shared.Principal {
	return &shared.Principal{Type: shared.PrincipalOwner, ID: f.ownerID, Permissions: shared.NewPermissionSet(shared.NewPermissionCatalog().Names()...)}
}

func keyActor(id uuid.UUID, perms ...string) *shared.Principal {
	return &shared.Principal{Type: shared.PrincipalKey, ID: id, Permissions: shared.NewPermissionSet(perms...)}
}

func TestAuthorizeOwnerHoldsAllBits(t *testing.T) {
	f := newAccessFixture()
	ctx := context.Background()

	err := f.evaluator.Authorize(ctx, f.owner(), f.resource, shared.PermShareManage, AllBits)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	bits, err := f.evaluator.EffectiveBits(ctx, f.owner(), f.resource)
	if err != nil {
		t.Fatalf("EffectiveBits: %v", err)
	}
	if bits != AllBits {
		t.Fatalf("owner bits = %v, want all", bits.Names())
	}
}

func TestAuthorizeForeignOwnerSeesNotFound(t *testing.T) {
	f := newAccessFixture()
	stranger := &shared.Principal{Type: shared.PrincipalOwner, ID: uuid.New(), Permissions: shared.NewPermissionSet(shared.NewPermissionCatalog().Names()...)}

	err := f.evaluator.Authorize(context.Background(), stranger, f.resource, shared.PermContentRead, BitView)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestAuthorizeWithoutViewHidesResource(t *testing.T) {
	f := newAccessFixture()
	actor := keyActor(uuid.New(), shared.PermContentRead, shared.PermContentComment)

	err := f.evaluator.Authorize(context.Background(), actor, f.resource, shared.PermContentRead, BitView)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if errors.Is(err, shared.ErrForbidden) {
		t.Fatal("hidden resource must not leak a forbidden signal")
	}
}

func TestAuthorizeNamesMissingRequirements(t *testing.T) {
	f := newAccessFixture()
	keyID := uuid.New()
	ctx := context.Background()

	if err := f.repo.UpsertGrant(ctx, &Grant{
		ID: uuid.New(), ResourceID: f.resourceID, TargetType: TargetKey, TargetID: keyID, Bits: BitView,
	}); err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}

	actor := keyActor(keyID, shared.PermContentRead)
	err := f.evaluator.Authorize(ctx, actor, f.resource, shared.PermContentComment, BitView|BitInteract)
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}

	var fe *shared.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("err %T does not carry missing requirements", err)
	}
	want := []string{shared.PermContentComment, "interact"}
	if len(fe.Missing) != len(want) {
		t.Fatalf("missing = %v, want %v", fe.Missing, want)
	}
	for i, name := range want {
		if fe.Missing[i] != name {
			t.Fatalf("missing = %v, want %v", fe.Missing, want)
		}
	}
}

func TestAuthorizeUnionsGroupGrants(t *testing.T) {
	f := newAccessFixture()
	keyID := uuid.New()
	groupID := uuid.New()
	ctx := context.Background()

	f.repo.members[groupID] = []uuid.UUID{keyID}
	if err := f.repo.UpsertGrant(ctx, &Grant{
		ID: uuid.New(), ResourceID: f.resourceID, TargetType: TargetKey, TargetID: keyID, Bits: BitView,
	}); err != nil {
		t.Fatalf("UpsertGrant key: %v", err)
	}
	if err := f.repo.UpsertGrant(ctx, &Grant{
		ID: uuid.New(), ResourceID: f.resourceID, TargetType: TargetGroup, TargetID: groupID, Bits: BitInteract,
	}); err != nil {
		t.Fatalf("UpsertGrant group: %v", err)
	}

	actor := keyActor(keyID, shared.PermContentRead, shared.PermContentComment)
	if err := f.evaluator.Authorize(ctx, actor, f.resource, shared.PermContentComment, BitView|BitInteract); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Removing the membership drops the group's contribution on the next
	// evaluation.
	f.repo.members[groupID] = nil
	err := f.evaluator.Authorize(ctx, actor, f.resource, shared.PermContentComment, BitView|BitInteract)
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("err after membership removal = %v, want forbidden", err)
	}
}

func TestGrantUpsertsAndAudits(t *testing.T) {
	f := newAccessFixture()
	keyID := uuid.New()
	f.keyDir.visible[keyID] = true
	ctx := context.Background()

	grant, err := f.service.Grant(ctx, f.owner(), f.resourceID, TargetKey, keyID, BitView|BitInteract)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if grant.Bits != BitView|BitInteract {
		t.Fatalf("bits = %v", grant.Bits.Names())
	}

	// A second grant for the same target replaces the mask.
	if _, err := f.service.Grant(ctx, f.owner(), f.resourceID, TargetKey, keyID, BitView); err != nil {
		t.Fatalf("Grant again: %v", err)
	}
	bits, err := f.repo.EffectiveBits(ctx, f.resourceID, keyID)
	if err != nil {
		t.Fatalf("EffectiveBits: %v", err)
	}
	if bits != BitView {
		t.Fatalf("bits after upsert = %v, want view only", bits.Names())
	}

	if len(f.recorder.events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(f.recorder.events))
	}
	if f.recorder.events[0].Action != shared.AuditGrantUpsert {
		t.Fatalf("action = %s", f.recorder.events[0].Action)
	}
}

func TestGrantRejectsForeignTargets(t *testing.T) {
	f := newAccessFixture()
	ctx := context.Background()

	// Unknown key: the directory reports it outside the hierarchy.
	_, err := f.service.Grant(ctx, f.owner(), f.resourceID, TargetKey, uuid.New(), BitView)
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("foreign key err = %v, want validation", err)
	}

	// Group owned by another hierarchy.
	groupID := uuid.New()
	f.groupDir.groups[groupID] = &groups.Group{ID: groupID, OwnerID: uuid.New()}
	_, err = f.service.Grant(ctx, f.owner(), f.resourceID, TargetGroup, groupID, BitView)
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("foreign group err = %v, want validation", err)
	}
}

func TestGrantRequiresManageAccess(t *testing.T) {
	f := newAccessFixture()
	managerID := uuid.New()
	viewerID := uuid.New()
	ctx := context.Background()

	if err := f.repo.UpsertGrant(ctx, &Grant{
		ID: uuid.New(), ResourceID: f.resourceID, TargetType: TargetKey, TargetID: viewerID, Bits: BitView,
	}); err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}

	// A key with only the view bit is refused, by name.
	viewer := keyActor(viewerID, shared.PermShareManage)
	_, err := f.service.Grant(ctx, viewer, f.resourceID, TargetKey, managerID, BitView)
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("viewer err = %v, want forbidden", err)
	}

	// A key with no grant at all cannot even see the resource.
	stranger := keyActor(uuid.New(), shared.PermShareManage)
	_, err = f.service.Grant(ctx, stranger, f.resourceID, TargetKey, managerID, BitView)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("stranger err = %v, want not found", err)
	}
}

func TestRevokeRemovesVisibility(t *testing.T) {
	f := newAccessFixture()
	keyID := uuid.New()
	f.keyDir.visible[keyID] = true
	ctx := context.Background()

	if _, err := f.service.Grant(ctx, f.owner(), f.resourceID, TargetKey, keyID, BitView); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := f.service.Revoke(ctx, f.owner(), f.resourceID, TargetKey, keyID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	actor := keyActor(keyID, shared.PermContentRead)
	err := f.evaluator.Authorize(ctx, actor, f.resource, shared.PermContentRead, BitView)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("err after revoke = %v, want not found", err)
	}

	// Revoking again reports the grant as gone.
	if err := f.service.Revoke(ctx, f.owner(), f.resourceID, TargetKey, keyID); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("second revoke = %v, want not found", err)
	}
}

func TestListRequiresManagement(t *testing.T) {
	f := newAccessFixture()
	keyID := uuid.New()
	f.keyDir.visible[keyID] = true
	ctx := context.Background()

	if _, err := f.service.Grant(ctx, f.owner(), f.resourceID, TargetKey, keyID, BitView); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	grants, err := f.service.List(ctx, f.owner(), f.resourceID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(grants))
	}

	actor := keyActor(keyID, shared.PermShareManage)
	if _, err := f.service.List(ctx, actor, f.resourceID); !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("viewer list = %v, want forbidden", err)
	}
}
