package property

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidKind     = errors.New("invalid property type")
	ErrInvalidSettings = errors.New("invalid property settings")
)

// ValidationError rejects one property of a submission. PropertyID is empty
// when the failure concerns the request as a whole.
type ValidationError struct {
	PropertyID string `json:"property_id,omitempty"`
	Reason     string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Reason
}

// Invalid builds a ValidationError with a formatted reason.
func Invalid(propertyID, format string, args ...any) *ValidationError {
	return &ValidationError{PropertyID: propertyID, Reason: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects every failure found in one submission.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	reasons := make([]string, 0, len(errs))
	for _, e := range errs {
		reasons = append(reasons, e.Reason)
	}
	return strings.Join(reasons, "; ")
}

// Err returns nil when errs is empty so callers can return it directly.
func (errs ValidationErrors) Err() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ConflictError reports that a resource with the same external binding (or
// name) already exists. ID is the id of the pre-existing resource.
type ConflictError struct {
	Resource string
	ID       string
	Field    string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	field := e.Field
	if field == "" {
		field = "external id and external source"
	}
	return fmt.Sprintf("%s with the same %s already exists", e.Resource, field)
}

// IsValidation reports whether err carries validation failures.
func IsValidation(err error) bool {
	var one *ValidationError
	var many ValidationErrors
	return errors.As(err, &one) || errors.As(err, &many)
}
