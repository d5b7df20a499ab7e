package access

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/shared"
)

// Bits is the per-resource capability bitmask layered on top of global
// permissions.
type Bits int32

const (
	// BitView makes the resource visible. Without it every action reports
	// the resource as not found.
	BitView Bits = 1 << 0
	// BitInteract allows commenting and other interactions.
	BitInteract Bits = 1 << 1
	// BitManageAccess allows managing the resource's sharing grants.
	BitManageAccess Bits = 1 << 2
)

// AllBits is the full capability mask, held implicitly by the resource
// owner on the administrative path.
const AllBits = BitView | BitInteract | BitManageAccess

var bitNames = []struct {
	bit  Bits
	name string
}{
	{BitView, "view"},
	{BitInteract, "interact"},
	{BitManageAccess, "manage_access"},
}

// Has reports whether b contains every bit of req.
func (b Bits) Has(req Bits) bool {
	return b&req == req
}

// Names renders the set bits as sorted capability names.
func (b Bits) Names() []string {
	var names []string
	for _, entry := range bitNames {
		if b.Has(entry.bit) {
			names = append(names, entry.name)
		}
	}
	return names
}

// ParseBits converts capability names into a mask.
func ParseBits(names []string) (Bits, error) {
	var mask Bits
outer:
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		for _, entry := range bitNames {
			if entry.name == name {
				mask |= entry.bit
				continue outer
			}
		}
		return 0, shared.Invalid("bits", "unknown capability "+name)
	}
	if mask == 0 {
		return 0, shared.Invalid("bits", "at least one capability required")
	}
	return mask, nil
}

// TargetType is the closed set of grant target kinds.
type TargetType string

const (
	// TargetKey grants directly to one key.
	TargetKey TargetType = "key"
	// TargetGroup grants to every member of a group, resolved freshly per
	// evaluation.
	TargetGroup TargetType = "group"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return t == TargetKey || t == TargetGroup
}

// Grant ties a resource to a target with a capability mask. Unique per
// (resource, target type, target id). No grant exists for a new resource;
// absence means invisible.
type Grant struct {
	ID         uuid.UUID
	ResourceID uuid.UUID
	TargetType TargetType
	TargetID   uuid.UUID
	Bits       Bits
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Protected is the slice of a resource the evaluator needs: its identity
// and the owner of the hierarchy it belongs to.
type Protected struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
}
