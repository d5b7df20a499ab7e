package httpx

import (
	"github.com/go-playground/validator/v10"

	"github.com/keygate-io/keygate/internal/shared"
)

// ValidationError converts go-playground validator errors into the core
// field-level validation error.
func ValidationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		return &shared.ValidationError{Fields: fields}
	}
	return shared.ErrValidation
}
