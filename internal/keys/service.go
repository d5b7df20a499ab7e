package keys

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/credential"
	"github.com/keygate-io/keygate/internal/shared"
)

// SweepScheduler requests an out-of-band convergence pass after a cascade
// commits. Optional; without it stragglers wait for the cron sweep.
type SweepScheduler interface {
	ScheduleSweep(ctx context.Context) error
}

// Service owns the key lifecycle: minting under the permission envelope,
// rotation, (de)activation with cascade closure, and credential redemption
// with use-count and device-limit exhaustion.
type Service struct {
	repo     Repository
	devices  *DeviceRegistry
	hasher   credential.Hasher
	catalog  *shared.PermissionCatalog
	recorder shared.AuditRecorder
	sweeps   SweepScheduler
}

// NewService constructs a new Service.
func NewService(repo Repository, devices *DeviceRegistry, hasher credential.Hasher, catalog *shared.PermissionCatalog, recorder shared.AuditRecorder, sweeps SweepScheduler) *Service {
	return &Service{repo: repo, devices: devices, hasher: hasher, catalog: catalog, recorder: recorder, sweeps: sweeps}
}

// MintInput describes a mint request.
type MintInput struct {
	Variant     Variant
	Permissions []string
	Label       string
	UseLimit    *int32
	DeviceLimit *int32
}

// Mint creates a new key under the permission-envelope rule. Owners mint
// Primary keys; author keys holding keys.issue mint Secondary and Use keys.
// The returned secret is revealed exactly once.
func (s *Service) Mint(ctx context.Context, actor *shared.Principal, in MintInput) (*MintedKey, error) {
	if !in.Variant.Valid() {
		return nil, shared.Invalid("variant", "must be primary, secondary or use")
	}
	requested := shared.NewPermissionSet(in.Permissions...)
	for _, name := range requested.Names() {
		if !s.catalog.Known(name) {
			return nil, shared.Invalid("permissions", "unknown permission "+name)
		}
	}
	if in.Variant == VariantUse {
		if reserved := requested.Intersect(shared.UseKeyReserved()); len(reserved) > 0 {
			return nil, shared.Invalid("permissions", "reserved for author keys: "+strings.Join(reserved, ", "))
		}
	}
	if (in.UseLimit != nil || in.DeviceLimit != nil) && in.Variant != VariantUse {
		return nil, shared.Invalid("limits", "use and device limits apply to use keys only")
	}
	if in.UseLimit != nil && *in.UseLimit <= 0 {
		return nil, shared.Invalid("use_limit", "must be positive")
	}
	if in.DeviceLimit != nil && *in.DeviceLimit <= 0 {
		return nil, shared.Invalid("device_limit", "must be positive")
	}

	secret, err := credential.GenerateSecret()
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	key := &Key{
		ID:          uuid.New(),
		Variant:     in.Variant,
		Label:       in.Label,
		SecretHash:  digest,
		Permissions: requested,
		Active:      true,
		UseLimit:    in.UseLimit,
		DeviceLimit: in.DeviceLimit,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		switch actor.Type {
		case shared.PrincipalOwner:
			if in.Variant != VariantPrimary {
				return shared.Invalid("variant", "owners mint primary keys; delegation requires an author key")
			}
			key.OwnerID = actor.ID
			key.InitialAuthor = key.ID
		case shared.PrincipalKey:
			if in.Variant == VariantPrimary {
				return shared.Invalid("variant", "primary keys are owner-minted")
			}
			issuer, err := tx.Get(ctx, actor.ID)
			if err != nil {
				return shared.ErrUnauthorized
			}
			if !issuer.Active {
				return shared.ErrUnauthorized
			}
			if !issuer.IsAuthor() || !issuer.Permissions.Has(shared.PermKeysIssue) {
				return shared.Forbidden(shared.PermKeysIssue)
			}
			if ok, missing := issuer.Permissions.ContainsAll(requested); !ok {
				return shared.Invalid("permissions", "outside issuer envelope: "+strings.Join(missing, ", "))
			}
			issuerID := issuer.ID
			key.OwnerID = issuer.OwnerID
			key.IssuedBy = &issuerID
			key.ParentID = &issuerID
			key.InitialAuthor = issuer.InitialAuthor
		default:
			return shared.ErrUnauthorized
		}
		return tx.Insert(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordKeyEvent(ctx, actor, shared.AuditKeyMint, key.ID, map[string]any{
		"variant":     string(key.Variant),
		"permissions": key.Permissions.Names(),
	}); err != nil {
		return nil, err
	}
	return &MintedKey{Key: key, PublicID: key.PublicID(), Secret: secret}, nil
}

// Rotate retires a key and mints its successor with identical permissions
// and lineage. Both mutations commit as one unit; if the predecessor was
// concurrently rotated or deactivated nothing is persisted.
func (s *Service) Rotate(ctx context.Context, actor *shared.Principal, keyID uuid.UUID) (*MintedKey, error) {
	secret, err := credential.GenerateSecret()
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	var successor *Key
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := s.manageable(ctx, tx, actor, keyID)
		if err != nil {
			return err
		}
		predecessorID := target.ID
		successor = &Key{
			ID:          uuid.New(),
			OwnerID:     target.OwnerID,
			Variant:     target.Variant,
			Label:       target.Label,
			SecretHash:  digest,
			Permissions: target.Permissions.Clone(),
			Active:      true,
			// Rotation never changes trust position: lineage copied verbatim.
			IssuedBy:      target.IssuedBy,
			ParentID:      target.ParentID,
			InitialAuthor: target.InitialAuthor,
			UseLimit:      target.UseLimit,
			DeviceLimit:   target.DeviceLimit,
			RotatedFrom:   &predecessorID,
		}
		if err := tx.Insert(ctx, successor); err != nil {
			return err
		}
		rotated, err := tx.MarkRotated(ctx, predecessorID, successor.ID)
		if err != nil {
			return err
		}
		if !rotated {
			return shared.ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.devices != nil && successor.DeviceLimit != nil {
		// The successor's fingerprint set starts empty; drop the
		// predecessor's so nothing lingers past the rotation.
		_ = s.devices.Forget(ctx, keyID)
	}

	if err := s.recordKeyEvent(ctx, actor, shared.AuditKeyRotate, keyID, map[string]any{
		"successor": successor.ID.String(),
	}); err != nil {
		return nil, err
	}
	return &MintedKey{Key: successor, PublicID: successor.PublicID(), Secret: secret}, nil
}

// Activate re-activates a single key. Activation never cascades.
func (s *Service) Activate(ctx context.Context, actor *shared.Principal, keyID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.manageable(ctx, tx, actor, keyID); err != nil {
			return err
		}
		_, err := tx.SetActive(ctx, keyID, true)
		return err
	})
	if err != nil {
		return err
	}
	return s.recordKeyEvent(ctx, actor, shared.AuditKeyActivate, keyID, nil)
}

// Deactivate deactivates a key. With cascade it deactivates the full
// transitive closure of keys reachable via parent links, computed from a
// single transactional snapshot.
func (s *Service) Deactivate(ctx context.Context, actor *shared.Principal, keyID uuid.UUID, cascade bool) error {
	var affected int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.manageable(ctx, tx, actor, keyID); err != nil {
			return err
		}
		if !cascade {
			n, err := tx.SetActive(ctx, keyID, false)
			if err != nil {
				return err
			}
			if n {
				affected = 1
			}
			return nil
		}
		var err error
		affected, err = deactivateClosure(ctx, tx, keyID)
		return err
	})
	if err != nil {
		return err
	}
	if cascade && s.sweeps != nil {
		// A failed enqueue is not fatal; the cron sweep converges the tree.
		_ = s.sweeps.ScheduleSweep(ctx)
	}
	return s.recordKeyEvent(ctx, actor, shared.AuditKeyDeactivate, keyID, map[string]any{
		"cascade":  cascade,
		"affected": affected,
	})
}

// DeactivateSubtree is the system-level cascade entry used by the
// convergence sweep. It bypasses the actor check.
func (s *Service) DeactivateSubtree(ctx context.Context, keyID uuid.UUID) (int64, error) {
	var affected int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		affected, err = deactivateClosure(ctx, tx, keyID)
		return err
	})
	return affected, err
}

// deactivateClosure collects {target} plus every key reachable via parent
// links with an explicit worklist, then deactivates the whole set.
func deactivateClosure(ctx context.Context, tx TxRepository, root uuid.UUID) (int64, error) {
	all := []uuid.UUID{root}
	frontier := []uuid.UUID{root}
	seen := map[uuid.UUID]struct{}{root: {}}
	for len(frontier) > 0 {
		children, err := tx.ChildrenOf(ctx, frontier)
		if err != nil {
			return 0, err
		}
		frontier = frontier[:0]
		for _, id := range children {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, id)
			frontier = append(frontier, id)
		}
	}
	return tx.DeactivateAll(ctx, all)
}

// StragglerIDs lists active keys whose parent is inactive, for the sweep.
func (s *Service) StragglerIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ActiveOrphans(ctx, limit)
}

// Redeem authenticates a key credential and enforces the exhaustion
// limits. The use counter increments once per successful redemption, not
// per authenticated request; that policy is part of the public contract.
// Every authentication failure is the same generic error.
func (s *Service) Redeem(ctx context.Context, publicID, secret, fingerprint string) (*Key, error) {
	id, err := shared.DecodeKeyPublicID(publicID)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	key, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	if !key.Active {
		return nil, shared.ErrUnauthorized
	}
	if !s.hasher.Verify(secret, key.SecretHash) {
		return nil, shared.ErrUnauthorized
	}
	if key.Variant == VariantUse {
		// Device gate first: registering a fingerprint is idempotent, so a
		// rejected device never burns a use from a finite limit.
		if key.DeviceLimit != nil {
			if fingerprint == "" {
				return nil, shared.Invalid("fingerprint", "required for this key")
			}
			admitted, err := s.devices.Register(ctx, key.ID, fingerprint, *key.DeviceLimit)
			if err != nil {
				return nil, err
			}
			if !admitted {
				return nil, shared.ErrLimitExceeded
			}
		}
		consumed, err := s.repo.ConsumeUse(ctx, key.ID)
		if err != nil {
			return nil, err
		}
		if !consumed {
			if key.UseLimit != nil {
				return nil, shared.ErrLimitExceeded
			}
			// No limit configured, so the guarded update can only have
			// missed because the key went inactive concurrently.
			return nil, shared.ErrUnauthorized
		}
	}
	return key, nil
}

// Get loads a key the actor is allowed to see. Keys outside the actor's
// hierarchy are reported as not found.
func (s *Service) Get(ctx context.Context, actor *shared.Principal, keyID uuid.UUID) (*Key, error) {
	key, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, actor, key); err != nil {
		return nil, err
	}
	return key, nil
}

// List returns the keys in the actor's hierarchy. A key principal without
// keys.manage sees only itself.
func (s *Service) List(ctx context.Context, actor *shared.Principal) ([]*Key, error) {
	switch actor.Type {
	case shared.PrincipalOwner:
		return s.repo.ListByOwner(ctx, actor.ID)
	case shared.PrincipalKey:
		self, err := s.repo.Get(ctx, actor.ID)
		if err != nil {
			return nil, shared.ErrUnauthorized
		}
		if !actor.Permissions.Has(shared.PermKeysManage) {
			return []*Key{self}, nil
		}
		return s.repo.ListByInitialAuthor(ctx, self.InitialAuthor)
	default:
		return nil, shared.ErrUnauthorized
	}
}

// visible hides keys outside the actor's hierarchy behind NotFound.
func (s *Service) visible(ctx context.Context, actor *shared.Principal, key *Key) error {
	switch actor.Type {
	case shared.PrincipalOwner:
		if key.OwnerID != actor.ID {
			return shared.ErrNotFound
		}
		return nil
	case shared.PrincipalKey:
		if actor.ID == key.ID {
			return nil
		}
		self, err := s.repo.Get(ctx, actor.ID)
		if err != nil {
			return shared.ErrUnauthorized
		}
		if self.InitialAuthor != key.InitialAuthor {
			return shared.ErrNotFound
		}
		return nil
	default:
		return shared.ErrUnauthorized
	}
}

// manageable loads the target inside the transaction and checks the actor
// may mutate it: the hierarchy owner always, a key principal only within
// its own hierarchy and holding keys.manage.
func (s *Service) manageable(ctx context.Context, tx TxRepository, actor *shared.Principal, keyID uuid.UUID) (*Key, error) {
	key, err := tx.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	switch actor.Type {
	case shared.PrincipalOwner:
		if key.OwnerID != actor.ID {
			return nil, shared.ErrNotFound
		}
	case shared.PrincipalKey:
		self, err := tx.Get(ctx, actor.ID)
		if err != nil {
			return nil, shared.ErrUnauthorized
		}
		if self.InitialAuthor != key.InitialAuthor {
			return nil, shared.ErrNotFound
		}
		if !actor.Permissions.Has(shared.PermKeysManage) {
			return nil, shared.Forbidden(shared.PermKeysManage)
		}
	default:
		return nil, shared.ErrUnauthorized
	}
	return key, nil
}

func (s *Service) recordKeyEvent(ctx context.Context, actor *shared.Principal, action string, keyID uuid.UUID, meta map[string]any) error {
	return s.recorder.Record(ctx, shared.AuditEvent{
		ActorType: string(actor.Type),
		ActorID:   actor.ID.String(),
		Action:    action,
		Subject:   "key",
		SubjectID: keyID.String(),
		Meta:      meta,
	})
}
