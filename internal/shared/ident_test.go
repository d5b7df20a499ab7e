package shared

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestKeyPublicIDRoundTrip(t *testing.T) {
	id := uuid.New()
	encoded := EncodeKeyPublicID(id)
	if !strings.HasPrefix(encoded, KeyPublicIDPrefix) {
		t.Fatalf("expected %s prefix, got %s", KeyPublicIDPrefix, encoded)
	}
	if encoded != strings.ToLower(encoded) {
		t.Fatalf("credential identifier must be lowercase: %s", encoded)
	}
	decoded, err := DecodeKeyPublicID(encoded)
	if err != nil {
		t.Fatalf("DecodeKeyPublicID() error = %v", err)
	}
	if decoded != id {
		t.Fatalf("round trip mismatch: %s != %s", decoded, id)
	}
}

func TestDecodeKeyPublicIDRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		uuid.New().String(),
		"ck_",
		"ck_!!!!",
		"ck_aaaa",
	}
	for _, input := range cases {
		if _, err := DecodeKeyPublicID(input); !errors.Is(err, ErrValidation) {
			t.Fatalf("DecodeKeyPublicID(%q) expected validation error, got %v", input, err)
		}
	}
}

func TestParseExternalIDRejectsCredentialForm(t *testing.T) {
	id := uuid.New()
	if _, err := ParseExternalID(EncodeKeyPublicID(id)); !errors.Is(err, ErrValidation) {
		t.Fatal("ck_ form must never be accepted as an external identifier")
	}
	parsed, err := ParseExternalID(id.String())
	if err != nil {
		t.Fatalf("ParseExternalID() error = %v", err)
	}
	if parsed != id {
		t.Fatalf("parse mismatch: %s != %s", parsed, id)
	}
}
