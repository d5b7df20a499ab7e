package keys

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keygate-io/keygate/internal/shared"
)

type memoryKeyRepo struct {
	keys map[uuid.UUID]*Key
}

func newMemoryKeyRepo() *memoryKeyRepo {
	return &memoryKeyRepo{keys: make(map[uuid.UUID]*Key)}
}

func (r *memoryKeyRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryKeyRepo) Get(ctx context.Context, id uuid.UUID) (*Key, error) {
	key, ok := r.keys[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *memoryKeyRepo) Insert(ctx context.Context, key *Key) error {
	if _, ok := r.keys[key.ID]; ok {
		return shared.ErrConflict
	}
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *memoryKeyRepo) MarkRotated(ctx context.Context, predecessor, successor uuid.UUID) (bool, error) {
	key, ok := r.keys[predecessor]
	if !ok || !key.Active || key.RotatedTo != nil {
		return false, nil
	}
	key.Active = false
	s := successor
	key.RotatedTo = &s
	return true, nil
}

func (r *memoryKeyRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	key, ok := r.keys[id]
	if !ok || key.Active == active {
		return false, nil
	}
	key.Active = active
	return true, nil
}

func (r *memoryKeyRepo) ChildrenOf(ctx context.Context, parents []uuid.UUID) ([]uuid.UUID, error) {
	set := make(map[uuid.UUID]struct{}, len(parents))
	for _, p := range parents {
		set[p] = struct{}{}
	}
	var out []uuid.UUID
	for _, key := range r.keys {
		if key.ParentID == nil {
			continue
		}
		if _, ok := set[*key.ParentID]; ok {
			out = append(out, key.ID)
		}
	}
	return out, nil
}

func (r *memoryKeyRepo) DeactivateAll(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range ids {
		if key, ok := r.keys[id]; ok && key.Active {
			key.Active = false
			n++
		}
	}
	return n, nil
}

func (r *memoryKeyRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Key, error) {
	var out []*Key
	for _, key := range r.keys {
		if key.OwnerID == ownerID {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryKeyRepo) ListByInitialAuthor(ctx context.Context, root uuid.UUID) ([]*Key, error) {
	var out []*Key
	for _, key := range r.keys {
		if key.InitialAuthor == root {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryKeyRepo) ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error) {
	key, ok := r.keys[id]
	if !ok || !key.Active {
		return false, nil
	}
	if key.UseLimit != nil && key.UseCount >= *key.UseLimit {
		return false, nil
	}
	key.UseCount++
	return true, nil
}

func (r *memoryKeyRepo) ActiveOrphans(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, key := range r.keys {
		if !key.Active || key.ParentID == nil {
			continue
		}
		parent, ok := r.keys[*key.ParentID]
		if ok && !parent.Active {
			out = append(out, key.ID)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) { return "h:" + secret, nil }
func (plainHasher) Verify(secret, digest string) bool  { return "h:"+secret == digest }

type recorderStub struct {
	events []shared.AuditEvent
}

func (r *recorderStub) Record(ctx context.Context, event shared.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func newTestService(repo *memoryKeyRepo) (*Service, *recorderStub) {
	rec := &recorderStub{}
	return NewService(repo, nil, plainHasher{}, shared.NewPermissionCatalog(), rec, nil), rec
}

func ownerPrincipal(id uuid.UUID) *shared.Principal {
	return &shared.Principal{Type: shared.PrincipalOwner, ID: id}
}

func keyPrincipal(key *Key) *shared.Principal {
	return &shared.Principal{Type: shared.PrincipalKey, ID: key.ID, Permissions: key.Permissions.Clone()}
}

func TestMintPrimaryByOwner(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, rec := newTestService(repo)
	owner := uuid.New()

	minted, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentCreate},
	})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if minted.Key.OwnerID != owner {
		t.Fatalf("expected owner %s got %s", owner, minted.Key.OwnerID)
	}
	if minted.Key.InitialAuthor != minted.Key.ID {
		t.Fatal("primary key must be its own initial author")
	}
	if minted.Key.IssuedBy != nil || minted.Key.ParentID != nil {
		t.Fatal("primary key must have no lineage parents")
	}
	if minted.Secret == "" || minted.PublicID == "" {
		t.Fatal("mint must reveal secret and public id")
	}
	if len(rec.events) != 1 || rec.events[0].Action != shared.AuditKeyMint {
		t.Fatalf("expected one mint audit event, got %+v", rec.events)
	}
}

func TestMintRejectsOwnerDelegation(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Mint(context.Background(), ownerPrincipal(uuid.New()), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMintEnvelopeContainment(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	actor := keyPrincipal(primary.Key)

	// Inside the envelope.
	secondary, err := svc.Mint(context.Background(), actor, MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint secondary: %v", err)
	}
	if secondary.Key.InitialAuthor != primary.Key.ID {
		t.Fatal("secondary must inherit the issuer's initial author")
	}
	if secondary.Key.IssuedBy == nil || *secondary.Key.IssuedBy != primary.Key.ID {
		t.Fatal("secondary must record its issuer")
	}

	// Outside the envelope.
	_, err = svc.Mint(context.Background(), actor, MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead, shared.PermGroupsManage},
	})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected envelope violation, got %v", err)
	}
}

func TestMintUseKeyRejectsReservedPermissions(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Mint(context.Background(), ownerPrincipal(uuid.New()), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentCreate},
	})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected reserved-permission rejection, got %v", err)
	}
}

func TestMintUseKeyRequiresAuthorIssuer(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	use, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint use: %v", err)
	}

	// A use key never delegates, regardless of its permissions.
	_, err = svc.Mint(context.Background(), keyPrincipal(use.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
	})
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRotateCopiesLineageAndRetiresPredecessor(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	secondary, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint secondary: %v", err)
	}

	rotated, err := svc.Rotate(context.Background(), ownerPrincipal(owner), secondary.Key.ID)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if rotated.Key.InitialAuthor != secondary.Key.InitialAuthor {
		t.Fatal("rotation must not move the key in the hierarchy")
	}
	if rotated.Key.IssuedBy == nil || *rotated.Key.IssuedBy != *secondary.Key.IssuedBy {
		t.Fatal("rotation must copy the issuer verbatim")
	}
	if rotated.Key.RotatedFrom == nil || *rotated.Key.RotatedFrom != secondary.Key.ID {
		t.Fatal("successor must link its predecessor")
	}
	if got, want := rotated.Key.Permissions.Names(), secondary.Key.Permissions.Names(); !equalStrings(got, want) {
		t.Fatalf("permissions changed on rotation: %v != %v", got, want)
	}

	old, err := repo.Get(context.Background(), secondary.Key.ID)
	if err != nil {
		t.Fatalf("reload predecessor: %v", err)
	}
	if old.Active {
		t.Fatal("predecessor must be retired")
	}
	if old.RotatedTo == nil || *old.RotatedTo != rotated.Key.ID {
		t.Fatal("predecessor must link its successor")
	}

	// Redeeming the retired credential fails like any bad credential.
	if _, err := svc.Redeem(context.Background(), secondary.Key.PublicID(), secondary.Secret, ""); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for retired key, got %v", err)
	}
}

func TestRotateTwiceConflicts(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	if _, err := svc.Rotate(context.Background(), ownerPrincipal(owner), primary.Key.ID); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if _, err := svc.Rotate(context.Background(), ownerPrincipal(owner), primary.Key.ID); !errors.Is(err, shared.ErrConflict) {
		t.Fatalf("expected conflict on second rotation, got %v", err)
	}
}

func TestDeactivateCascadeClosesSubtree(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	mid, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint mid: %v", err)
	}
	leaf, err := svc.Mint(context.Background(), keyPrincipal(mid.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint leaf: %v", err)
	}

	if err := svc.Deactivate(context.Background(), ownerPrincipal(owner), mid.Key.ID, true); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	for _, id := range []uuid.UUID{mid.Key.ID, leaf.Key.ID} {
		key, err := repo.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if key.Active {
			t.Fatalf("key %s should be deactivated", id)
		}
	}
	root, _ := repo.Get(context.Background(), primary.Key.ID)
	if !root.Active {
		t.Fatal("cascade must not travel upward")
	}
}

func TestDeactivateWithoutCascadeLeavesChildren(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, _ := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	child, _ := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})

	if err := svc.Deactivate(context.Background(), ownerPrincipal(owner), primary.Key.ID, false); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	got, _ := repo.Get(context.Background(), child.Key.ID)
	if !got.Active {
		t.Fatal("non-cascade deactivation must not touch children")
	}
}

func TestRedeemGenericFailures(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	minted, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	cases := []struct {
		name     string
		publicID string
		secret   string
	}{
		{"garbage id", "ck_notbase32!!", "whatever"},
		{"unknown id", shared.EncodeKeyPublicID(uuid.New()), "whatever"},
		{"wrong secret", minted.PublicID, "wrong"},
	}
	for _, tc := range cases {
		if _, err := svc.Redeem(context.Background(), tc.publicID, tc.secret, ""); !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("%s: expected the generic unauthorized error, got %v", tc.name, err)
		}
	}

	if _, err := svc.Redeem(context.Background(), minted.PublicID, minted.Secret, ""); err != nil {
		t.Fatalf("valid redemption failed: %v", err)
	}
}

func TestRedeemUseLimitExhaustion(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	limit := int32(2)
	minted, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	use, err := svc.Mint(context.Background(), keyPrincipal(minted.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
		UseLimit:    &limit,
	})
	if err != nil {
		t.Fatalf("mint use: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, ""); err != nil {
			t.Fatalf("redemption %d: %v", i+1, err)
		}
	}
	_, err = svc.Redeem(context.Background(), use.PublicID, use.Secret, "")
	if !errors.Is(err, shared.ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
	// The limit failure still reads as forbidden, not as a credential error.
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("limit exceeded must unwrap to forbidden, got %v", err)
	}
}

func TestRedeemDeviceLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryKeyRepo()
	rec := &recorderStub{}
	svc := NewService(repo, NewDeviceRegistry(client), plainHasher{}, shared.NewPermissionCatalog(), rec, nil)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	limit := int32(1)
	use, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
		DeviceLimit: &limit,
	})
	if err != nil {
		t.Fatalf("mint use: %v", err)
	}

	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-a"); err != nil {
		t.Fatalf("first device: %v", err)
	}
	// Same fingerprint re-admits.
	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-a"); err != nil {
		t.Fatalf("repeat device: %v", err)
	}
	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-b"); !errors.Is(err, shared.ErrLimitExceeded) {
		t.Fatalf("expected device limit exceeded, got %v", err)
	}
	// Missing fingerprint on a device-limited key is a validation failure.
	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, ""); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRedeemDeviceRejectionDoesNotBurnUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryKeyRepo()
	svc := NewService(repo, NewDeviceRegistry(client), plainHasher{}, shared.NewPermissionCatalog(), &recorderStub{}, nil)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	useLimit, deviceLimit := int32(2), int32(1)
	use, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
		UseLimit:    &useLimit,
		DeviceLimit: &deviceLimit,
	})
	if err != nil {
		t.Fatalf("mint use: %v", err)
	}

	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-a"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if got := repo.keys[use.Key.ID].UseCount; got != 1 {
		t.Fatalf("use count = %d, want 1", got)
	}

	// A rejected device must not consume a use.
	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-b"); !errors.Is(err, shared.ErrLimitExceeded) {
		t.Fatalf("expected device limit exceeded, got %v", err)
	}
	if got := repo.keys[use.Key.ID].UseCount; got != 1 {
		t.Fatalf("use count after rejection = %d, want 1", got)
	}

	// The admitted device still has a use left.
	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-a"); err != nil {
		t.Fatalf("second redemption: %v", err)
	}
	if got := repo.keys[use.Key.ID].UseCount; got != 2 {
		t.Fatalf("use count = %d, want 2", got)
	}
}

func TestRotateClearsDeviceSlate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryKeyRepo()
	svc := NewService(repo, NewDeviceRegistry(client), plainHasher{}, shared.NewPermissionCatalog(), &recorderStub{}, nil)
	owner := uuid.New()

	primary, err := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint primary: %v", err)
	}
	limit := int32(1)
	use, err := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantUse,
		Permissions: []string{shared.PermContentRead},
		DeviceLimit: &limit,
	})
	if err != nil {
		t.Fatalf("mint use: %v", err)
	}

	if _, err := svc.Redeem(context.Background(), use.PublicID, use.Secret, "device-a"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !mr.Exists(deviceSetKey(use.Key.ID)) {
		t.Fatal("device set should exist after redemption")
	}

	successor, err := svc.Rotate(context.Background(), ownerPrincipal(owner), use.Key.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if mr.Exists(deviceSetKey(use.Key.ID)) {
		t.Fatal("predecessor device set should be cleared by rotation")
	}

	// The successor admits a fresh device under the carried-over limit.
	if _, err := svc.Redeem(context.Background(), successor.PublicID, successor.Secret, "device-b"); err != nil {
		t.Fatalf("successor redeem: %v", err)
	}
}

func TestGetHidesForeignHierarchy(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	ownerA, ownerB := uuid.New(), uuid.New()

	mine, err := svc.Mint(context.Background(), ownerPrincipal(ownerA), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermContentRead},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := svc.Get(context.Background(), ownerPrincipal(ownerB), mine.Key.ID); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("foreign owner must see not-found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ownerPrincipal(ownerA), mine.Key.ID); err != nil {
		t.Fatalf("own key should be visible: %v", err)
	}
}

func TestListKeyPrincipalScopes(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, _ := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermKeysManage, shared.PermContentRead},
	})
	secondary, _ := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})

	// Without keys.manage the principal sees only itself.
	limited, err := svc.List(context.Background(), keyPrincipal(secondary.Key))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != secondary.Key.ID {
		t.Fatalf("expected self-only listing, got %d keys", len(limited))
	}

	// With keys.manage the whole hierarchy is visible.
	full, err := svc.List(context.Background(), keyPrincipal(primary.Key))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(full) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(full))
	}
}

func TestStragglerSweepConverges(t *testing.T) {
	repo := newMemoryKeyRepo()
	svc, _ := newTestService(repo)
	owner := uuid.New()

	primary, _ := svc.Mint(context.Background(), ownerPrincipal(owner), MintInput{
		Variant:     VariantPrimary,
		Permissions: []string{shared.PermKeysIssue, shared.PermContentRead},
	})
	child, _ := svc.Mint(context.Background(), keyPrincipal(primary.Key), MintInput{
		Variant:     VariantSecondary,
		Permissions: []string{shared.PermContentRead},
	})

	// Simulate a child minted concurrently with the cascade: the parent is
	// gone but the child stayed active.
	repo.keys[primary.Key.ID].Active = false

	ids, err := svc.StragglerIDs(context.Background(), 10)
	if err != nil {
		t.Fatalf("StragglerIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != child.Key.ID {
		t.Fatalf("expected the orphaned child, got %v", ids)
	}
	if _, err := svc.DeactivateSubtree(context.Background(), child.Key.ID); err != nil {
		t.Fatalf("DeactivateSubtree() error = %v", err)
	}
	got, _ := repo.Get(context.Background(), child.Key.ID)
	if got.Active {
		t.Fatal("straggler should be deactivated after the sweep")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
