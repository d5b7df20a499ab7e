package resources

import (
	"time"

	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/shared"
)

// Resource is a piece of shareable content. A new resource carries no
// grants: it is invisible to every key until a grant is created through
// the sharing path.
type Resource struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	CreatorType shared.PrincipalType
	CreatorID   uuid.UUID
	Title       string
	Body        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Comment is an interaction on a resource.
type Comment struct {
	ID         uuid.UUID
	ResourceID uuid.UUID
	AuthorType shared.PrincipalType
	AuthorID   uuid.UUID
	Body       string
	CreatedAt  time.Time
}
