package reduce

import "fmt"

// Kind enumerates the non-retryable combiner failure kinds of
// spec.md §4.1 "Failure": PreReduceValidation, PostReduceValidation,
// AlreadyFullyReduced, SchemaError. All are terminal — the combiner
// never retries internally.
type Kind string

const (
	KindPreReduceValidation  Kind = "PreReduceValidation"
	KindPostReduceValidation Kind = "PostReduceValidation"
	KindAlreadyFullyReduced  Kind = "AlreadyFullyReduced"
	KindSchemaError          Kind = "SchemaError"
)

// Error is a combiner failure, tagged with its Kind so callers can
// distinguish (e.g.) a malformed right-hand document from a reduction
// that produced an invalid result.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func preReduceErr(err error) error {
	return &Error{Kind: KindPreReduceValidation, Err: err}
}
func postReduceErr(err error) error {
	return &Error{Kind: KindPostReduceValidation, Err: err}
}
func schemaErr(err error) error {
	return &Error{Kind: KindSchemaError, Err: err}
}
func alreadyFullyReducedErr(key []any) error {
	return &Error{Kind: KindAlreadyFullyReduced, Err: fmt.Errorf("document with key %v is already fully reduced", key)}
}
