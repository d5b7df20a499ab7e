package shared

import (
	"context"

	"github.com/google/uuid"
)

// PrincipalType tags the two principal variants. The two tags are mutually
// exclusive; every authorization decision matches on the tag exhaustively.
type PrincipalType string

const (
	// PrincipalOwner is a human principal authenticated by password.
	PrincipalOwner PrincipalType = "owner"
	// PrincipalKey is a machine principal authenticated by key secret.
	PrincipalKey PrincipalType = "key"
)

// Principal is the authenticated actor for the current request. Permissions
// are the set frozen into the access token at issuance time.
type Principal struct {
	Type        PrincipalType
	ID          uuid.UUID
	Permissions PermissionSet
}

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal, or nil when unauthenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
