// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/keygate-io/keygate/internal/shared"
)

// RespondError maps core errors to HTTP responses using RFC7807.
// Unauthorized responses never carry detail: credential failures and
// refresh replays must be indistinguishable to the caller.
func RespondError(w http.ResponseWriter, err error) {
	var validation *shared.ValidationError
	var forbidden *shared.ForbiddenError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "", nil)
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", nil)
	case errors.Is(err, shared.ErrLimitExceeded):
		Problem(w, http.StatusForbidden, "Limit Exceeded", err.Error(), nil)
	case errors.As(err, &forbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error(), map[string]any{"missing": forbidden.Missing})
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error(), nil)
	case errors.As(err, &validation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), map[string]any{"fields": validation.Fields})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), nil)
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "", nil)
	}
}
