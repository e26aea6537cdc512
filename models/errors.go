package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed or out-of-range input. Never retried.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + e.Details()
}

// Details renders field errors as "field: problem" pairs in a stable order.
func (e *ValidationError) Details() string {
	if len(e.Fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func NewFieldError(field string, problem string) *ValidationError {
	return &ValidationError{
		Message: "invalid " + field,
		Fields:  map[string]string{field: problem},
	}
}

// NotFoundError reports a referenced record that is absent or inactive.
type NotFoundError struct {
	Entity string
	Id     int
}

func (e *NotFoundError) Error() string {
	if e.Id == 0 {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.Id)
}

// ConflictError reports an operation that would violate a state invariant.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// InternalError wraps persistence or transport failures. Its message never
// includes the wrapped error; use errors.Unwrap for logging.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return "internal error during " + e.Op
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func internalError(op string, err error) error {
	if err == nil {
		return nil
	}
	// already classified
	if IsDomainError(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the four taxonomy types.
func IsDomainError(err error) bool {
	var (
		ve *ValidationError
		ne *NotFoundError
		ce *ConflictError
		ie *InternalError
	)
	return errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &ce) || errors.As(err, &ie)
}
