package access

import (
	"context"

	"github.com/keygate-io/keygate/internal/shared"
)

// Evaluator authorizes resource-scoped actions. An action passes only when
// the caller's global permission set holds the required permission AND the
// resolved grant bitmask contains the required bits.
//
// Visibility hiding is a hard rule: a caller without the view bit gets
// NotFound for every action on the resource, never Forbidden, so grant
// absence cannot be probed. A caller with view but missing a further
// requirement gets Forbidden naming what is missing.
type Evaluator struct {
	repo Repository
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo}
}

// Authorize checks the actor against the resource for one action. The
// grant lookup runs fresh on every call; no security decision is cached.
func (e *Evaluator) Authorize(ctx context.Context, actor *shared.Principal, resource Protected, perm string, required Bits) error {
	bits, err := e.resolveBits(ctx, actor, resource)
	if err != nil {
		return err
	}
	if !bits.Has(BitView) {
		return shared.ErrNotFound
	}
	var missing []string
	if perm != "" && !actor.Permissions.Has(perm) {
		missing = append(missing, perm)
	}
	if lacking := required &^ bits; lacking != 0 {
		missing = append(missing, lacking.Names()...)
	}
	if len(missing) > 0 {
		return shared.Forbidden(missing...)
	}
	return nil
}

// EffectiveBits resolves the actor's bitmask for the resource. The
// resource owner passes through the administrative path with the full
// mask; other owners hold nothing, since grants only target keys and
// groups.
func (e *Evaluator) EffectiveBits(ctx context.Context, actor *shared.Principal, resource Protected) (Bits, error) {
	return e.resolveBits(ctx, actor, resource)
}

func (e *Evaluator) resolveBits(ctx context.Context, actor *shared.Principal, resource Protected) (Bits, error) {
	switch actor.Type {
	case shared.PrincipalOwner:
		if actor.ID == resource.OwnerID {
			return AllBits, nil
		}
		return 0, nil
	case shared.PrincipalKey:
		return e.repo.EffectiveBits(ctx, resource.ID, actor.ID)
	default:
		return 0, shared.ErrUnauthorized
	}
}
