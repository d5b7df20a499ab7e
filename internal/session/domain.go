package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/shared"
)

// RefreshToken is the stored side of an opaque refresh credential. The
// secret itself never touches the database; rows are located by the
// derived lookup digest. Rotated transitions false->true exactly once.
type RefreshToken struct {
	ID            uuid.UUID
	LookupDigest  string
	PrincipalType shared.PrincipalType
	PrincipalID   uuid.UUID
	ExpiresAt     time.Time
	Rotated       bool
	// ReplacedBy links a rotated token to its successor for audit/trace
	// purposes only.
	ReplacedBy *uuid.UUID
	CreatedAt  time.Time
}

// TokenPair is the result of a successful login, redemption or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
