package owners

import (
	"time"

	"github.com/google/uuid"
)

// Owner represents a human principal. Owners root the key hierarchy and
// authenticate with a password.
type Owner struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
