package shared

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// KeyPublicIDPrefix marks a key's public credential identifier. The ck_
// format is exchanged only during credential redemption and is never
// accepted where a resource identifier is expected.
const KeyPublicIDPrefix = "ck_"

var publicIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeKeyPublicID renders a key id in the ck_ credential form.
func EncodeKeyPublicID(id uuid.UUID) string {
	return KeyPublicIDPrefix + strings.ToLower(publicIDEncoding.EncodeToString(id[:]))
}

// DecodeKeyPublicID parses a ck_ credential identifier.
func DecodeKeyPublicID(s string) (uuid.UUID, error) {
	if !strings.HasPrefix(s, KeyPublicIDPrefix) {
		return uuid.Nil, Invalid("key_id", "missing "+KeyPublicIDPrefix+" prefix")
	}
	raw, err := publicIDEncoding.DecodeString(strings.ToUpper(strings.TrimPrefix(s, KeyPublicIDPrefix)))
	if err != nil {
		return uuid.Nil, Invalid("key_id", "malformed credential identifier")
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, Invalid("key_id", "malformed credential identifier")
	}
	return id, nil
}

// ParseExternalID parses the canonical external identifier form used on
// routes, responses, token claims and audit records. The ck_ credential
// form is rejected here.
func ParseExternalID(s string) (uuid.UUID, error) {
	if strings.HasPrefix(s, KeyPublicIDPrefix) {
		return uuid.Nil, Invalid("id", "credential identifier not accepted here")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, Invalid("id", "malformed identifier")
	}
	return id, nil
}
