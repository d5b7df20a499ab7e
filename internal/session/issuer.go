package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/shared"
)

// PrincipalAny relaxes the expected-tag check for endpoints that accept
// both principal variants.
const PrincipalAny shared.PrincipalType = ""

// Claims is the access-token payload: the principal-type tag, the
// principal identifier as subject, and the permission set frozen at
// issuance time.
type Claims struct {
	jwt.RegisteredClaims
	PrincipalType shared.PrincipalType `json:"ptype"`
	Permissions   []string             `json:"perms"`
}

// Issuer mints and verifies signed access tokens.
type Issuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer constructs an Issuer. The signing secret must be at least 32
// bytes; shorter secrets are a configuration error caught at startup.
func NewIssuer(secret, issuer, audience string, accessTTL time.Duration) *Issuer {
	return &Issuer{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// Issue signs an access token for the principal.
func (i *Issuer) Issue(p *shared.Principal) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		PrincipalType: p.Type,
		Permissions:   p.Permissions.Names(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks signature, expiry, not-before, issuer, audience and the
// principal-type tag against the endpoint's expected tag. Any mismatch is
// the same generic authentication failure.
func (i *Issuer) Verify(token string, expect shared.PrincipalType) (*shared.Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, shared.ErrUnauthorized
	}
	switch claims.PrincipalType {
	case shared.PrincipalOwner, shared.PrincipalKey:
	default:
		return nil, shared.ErrUnauthorized
	}
	if expect != PrincipalAny && claims.PrincipalType != expect {
		return nil, shared.ErrUnauthorized
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	return &shared.Principal{
		Type:        claims.PrincipalType,
		ID:          id,
		Permissions: shared.NewPermissionSet(claims.Permissions...),
	}, nil
}
