package keys

import (
	"time"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/shared"
)

// Variant is the closed set of key kinds.
type Variant string

const (
	// VariantPrimary is an owner-minted root key.
	VariantPrimary Variant = "primary"
	// VariantSecondary is delegated by an author key and can delegate further.
	VariantSecondary Variant = "secondary"
	// VariantUse is an interaction-only delegated key.
	VariantUse Variant = "use"
)

// Valid reports whether v is one of the three known variants.
func (v Variant) Valid() bool {
	switch v {
	case VariantPrimary, VariantSecondary, VariantUse:
		return true
	}
	return false
}

// Key is a machine principal. Lineage fields (IssuedBy, ParentID,
// InitialAuthor) are set exactly once at mint time and never mutated;
// the permission set is likewise immutable after mint.
type Key struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Variant     Variant
	Label       string
	SecretHash  string
	Permissions shared.PermissionSet
	Active      bool

	// Lineage. IssuedBy and ParentID are nil for a Primary key;
	// InitialAuthor is the root Primary key of the subtree, self for Primary.
	IssuedBy      *uuid.UUID
	ParentID      *uuid.UUID
	InitialAuthor uuid.UUID

	// Exhaustion limits, only meaningful for Use keys.
	UseLimit    *int32
	UseCount    int32
	DeviceLimit *int32

	// Rotation links, audit/trace only.
	RotatedFrom *uuid.UUID
	RotatedTo   *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicID renders the ck_ credential identifier exchanged during
// secret redemption.
func (k *Key) PublicID() string {
	return shared.EncodeKeyPublicID(k.ID)
}

// IsAuthor reports whether the key may delegate and create content.
func (k *Key) IsAuthor() bool {
	return k.Variant == VariantPrimary || k.Variant == VariantSecondary
}

// MintedKey is the mint result. Secret is the plaintext revealed exactly
// once; only its hash is persisted.
type MintedKey struct {
	Key      *Key
	PublicID string
	Secret   string
}
