package session

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/keygate-io/keygate/internal/platform/httpx"
	"github.com/keygate-io/keygate/internal/shared"
)

// Middleware wires token authentication and global-permission checks for
// HTTP handlers.
type Middleware struct {
	Issuer *Issuer
	Logger *slog.Logger
}

// Authenticate verifies the bearer access token and stores the principal
// in context. Both principal variants are accepted; owner-only routes add
// RequireOwner.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.Issuer.Verify(bearerToken(r), PrincipalAny)
		if err != nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireOwner rejects key principals. The tag mismatch is a uniform
// authentication failure, not a forbidden, so key holders cannot probe
// owner-only surfaces.
func (m Middleware) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := shared.PrincipalFromContext(r.Context())
		if principal == nil || principal.Type != shared.PrincipalOwner {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermissions ensures the principal's frozen permission set holds
// every named permission.
func (m Middleware) RequirePermissions(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			var missing []string
			for _, perm := range perms {
				if !principal.Permissions.Has(perm) {
					missing = append(missing, perm)
				}
			}
			if len(missing) > 0 {
				httpx.RespondError(w, shared.Forbidden(missing...))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
