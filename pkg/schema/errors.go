package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error type below matches exactly one of these
// with errors.Is, so callers can separate bugs from bad input.
var (
	// ErrProgrammer marks errors that cannot be fixed by correcting data.
	ErrProgrammer = errors.New("programmer error")
	// ErrData marks errors caused by the content of an instance or document.
	ErrData = errors.New("data error")
)

// UnknownTypeError is returned when a type name is not registered.
type UnknownTypeError struct {
	Name string
	Path string
}

func (e *UnknownTypeError) Error() string {
	return withPath(fmt.Sprintf("unknown type '%s'", e.Name), e.Path)
}

// Is reports whether target is ErrProgrammer.
func (e *UnknownTypeError) Is(target error) bool { return target == ErrProgrammer }

// UnknownFieldError is returned when a field is not declared on a type.
type UnknownFieldError struct {
	Type  string
	Field string
	Path  string
}

func (e *UnknownFieldError) Error() string {
	return withPath(fmt.Sprintf("unknown field '%s' on type '%s'", e.Field, e.Type), e.Path)
}

// Is reports whether target is ErrProgrammer.
func (e *UnknownFieldError) Is(target error) bool { return target == ErrProgrammer }

// DuplicateTypeError is returned when a type name is registered twice.
type DuplicateTypeError struct {
	Name string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("type '%s' is already registered", e.Name)
}

// Is reports whether target is ErrProgrammer.
func (e *DuplicateTypeError) Is(target error) bool { return target == ErrProgrammer }

// DuplicateFieldError is returned when a type declares the same field name
// twice, or a choice member collides with another field.
type DuplicateFieldError struct {
	Type  string
	Field string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("field '%s' is declared more than once on type '%s'", e.Field, e.Type)
}

// Is reports whether target is ErrProgrammer.
func (e *DuplicateFieldError) Is(target error) bool { return target == ErrProgrammer }

// InvalidDescriptorError is returned when a descriptor violates its own
// invariants (e.g. min greater than max).
type InvalidDescriptorError struct {
	Type   string
	Field  string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid type '%s': %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid field '%s.%s': %s", e.Type, e.Field, e.Reason)
}

// Is reports whether target is ErrProgrammer.
func (e *InvalidDescriptorError) Is(target error) bool { return target == ErrProgrammer }

// CardinalityError is returned when the number of values does not fit a
// field's max cardinality.
type CardinalityError struct {
	Path  string
	Max   int
	Count int
}

func (e *CardinalityError) Error() string {
	return withPath(fmt.Sprintf("%d values supplied but at most %d allowed", e.Count, e.Max), e.Path)
}

// Is reports whether target is ErrData.
func (e *CardinalityError) Is(target error) bool { return target == ErrData }

// ChoiceConflictError is returned when a second member of a choice group is set.
type ChoiceConflictError struct {
	Path     string
	Choice   string
	Existing string
	Incoming string
}

func (e *ChoiceConflictError) Error() string {
	return withPath(fmt.Sprintf("choice '%s[x]' already holds '%s'; clear it before setting '%s'",
		e.Choice, e.Existing, e.Incoming), e.Path)
}

// Is reports whether target is ErrData.
func (e *ChoiceConflictError) Is(target error) bool { return target == ErrData }

// TypeError is returned when a value does not have the representation
// required by a field's type.
type TypeError struct {
	Path     string
	Expected string
	Got      string
}

func (e *TypeError) Error() string {
	return withPath(fmt.Sprintf("expected %s, got %s", e.Expected, e.Got), e.Path)
}

// Is reports whether target is ErrData.
func (e *TypeError) Is(target error) bool { return target == ErrData }

// SyntaxError is returned by codecs for malformed wire documents.
type SyntaxError struct {
	Format string
	Path   string
	Err    error
}

func (e *SyntaxError) Error() string {
	msg := "malformed " + e.Format
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return withPath(msg, e.Path)
}

// Unwrap returns the underlying parser error.
func (e *SyntaxError) Unwrap() error { return e.Err }

// Is reports whether target is ErrData.
func (e *SyntaxError) Is(target error) bool { return target == ErrData }

func withPath(msg, path string) string {
	if path == "" {
		return msg
	}
	return msg + " at " + path
}

// JoinPath appends a field segment to a dotted path.
func JoinPath(base, field string) string {
	if base == "" {
		return field
	}
	var b strings.Builder
	b.Grow(len(base) + len(field) + 1)
	b.WriteString(base)
	b.WriteByte('.')
	b.WriteString(field)
	return b.String()
}
