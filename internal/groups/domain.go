package groups

import (
	"time"

	"github.com/google/uuid"
)

// Group is an owner-held set of keys usable as a sharing-grant target.
type Group struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Keychain is an owner-side organizational set of keys. Unlike a Group it
// is never a grant target.
type Keychain struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
