package catalog

import "fmt"

// ValidationError is a user-visible validation failure: it carries a
// scope (a URL into the draft, per spec.md §3.1 BuildResult and §7
// kind 1) and a human detail. ValidationErrors are surfaced on the
// publication response and persisted into draft_errors; they are
// never retried automatically.
type ValidationError struct {
	Scope  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Scope, e.Detail)
}

// NewValidationError builds a ValidationError scoped to a catalog name.
func NewValidationError(scope string, format string, args ...any) *ValidationError {
	return &ValidationError{Scope: scope, Detail: fmt.Sprintf(format, args...)}
}

// Scope returns a "flow://<type>/<name>" diagnostic-provenance URL for
// a spec of the given type, used to scope validation errors and the
// catalog model's `scope` column (spec.md §4.2).
func Scope(t SpecType, name Name) string {
	return fmt.Sprintf("flow://%s/%s", t, name)
}
