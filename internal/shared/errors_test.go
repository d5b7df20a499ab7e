package shared

import (
	"errors"
	"testing"
)

func TestForbiddenUnwraps(t *testing.T) {
	err := Forbidden(PermKeysManage)
	if !errors.Is(err, ErrForbidden) {
		t.Fatal("ForbiddenError must unwrap to ErrForbidden")
	}
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatal("expected *ForbiddenError")
	}
	if len(fe.Missing) != 1 || fe.Missing[0] != PermKeysManage {
		t.Fatalf("Missing = %v", fe.Missing)
	}
}

func TestLimitExceededIsForbidden(t *testing.T) {
	if !errors.Is(ErrLimitExceeded, ErrForbidden) {
		t.Fatal("limit exhaustion must read as forbidden")
	}
	if errors.Is(ErrLimitExceeded, ErrUnauthorized) {
		t.Fatal("limit exhaustion must not read as a credential failure")
	}
}

func TestInvalidCarriesField(t *testing.T) {
	err := Invalid("variant", "must be primary, secondary or use")
	if !errors.Is(err, ErrValidation) {
		t.Fatal("ValidationError must unwrap to ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *ValidationError")
	}
	if ve.Fields["variant"] == "" {
		t.Fatalf("Fields = %v", ve.Fields)
	}
}
