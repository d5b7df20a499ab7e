package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the resource is absent or hidden by the
	// visibility policy.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the resource is visible but the action is denied.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized covers every credential or session failure. The message
	// is deliberately generic; callers must never learn which check failed.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrValidation indicates malformed input or an envelope violation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrLimitExceeded is a distinguished Forbidden for exhausted use-count
	// or device limits. errors.Is(err, ErrForbidden) holds for it.
	ErrLimitExceeded = fmt.Errorf("%w: limit exceeded", ErrForbidden)
)

// ForbiddenError carries the missing requirement so the caller layer can
// surface it. It is never used for visibility-hidden resources, which map
// to ErrNotFound instead.
type ForbiddenError struct {
	Missing []string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: missing " + strings.Join(e.Missing, ", ")
}

// Unwrap makes errors.Is(err, ErrForbidden) hold.
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// Forbidden builds a ForbiddenError naming the missing permissions or bits.
func Forbidden(missing ...string) error {
	return &ForbiddenError{Missing: missing}
}

// ValidationError carries per-field detail for envelope and input violations.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
