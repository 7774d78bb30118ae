package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds of the pipeline. Match with errors.Is.
var (
	ErrLoad       = errors.New("load failed")
	ErrEmbedding  = errors.New("embedding failed")
	ErrStorage    = errors.New("storage failed")
	ErrRetrieval  = errors.New("retrieval failed")
	ErrGeneration = errors.New("generation failed")
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")
)

// Error carries the kind of a pipeline failure together with its cause.
type Error struct {
	Kind       error
	Op         string
	DocumentID string
	Err        error
}

func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) WithDocument(id string) *Error {
	e.DocumentID = id
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.DocumentID != "" {
		fmt.Fprintf(&b, " (document %s)", e.DocumentID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the pipeline kind of err, or nil if it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrLoad, ErrEmbedding, ErrStorage, ErrRetrieval, ErrGeneration} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{Errors: errors}
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Errors[k]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpsertError names the chunk rows that could not be written. The whole batch
// was rolled back.
type UpsertError struct {
	Failed []int
	Err    error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert chunks: rows %v failed: %v", e.Failed, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

// Outcome is the result of a best-effort step. A failed outcome does not fail
// the pipeline that produced it.
type Outcome[T any] struct {
	Value   T
	Err     error
	Skipped bool
}

func Succeeded[T any](v T) Outcome[T] { return Outcome[T]{Value: v} }

func Failed[T any](err error) Outcome[T] { return Outcome[T]{Err: err} }

func Skipped[T any]() Outcome[T] { return Outcome[T]{Skipped: true} }

func (o Outcome[T]) OK() bool { return !o.Skipped && o.Err == nil }

// Ptr returns the value when the step succeeded and nil otherwise.
func (o Outcome[T]) Ptr() *T {
	if !o.OK() {
		return nil
	}
	v := o.Value
	return &v
}
