package engine

import "fmt"

// ValidationError reports a malformed or conflicting management request
// (bad rule or window fields, duplicate names, unusable events). The request
// is rejected with no state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports removal of a rule or maintenance window that is not
// registered.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}
