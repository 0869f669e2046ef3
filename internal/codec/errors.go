package codec

import (
	"errors"
	"fmt"
)

// ErrUnknownType is returned when no parser or serializer is registered
// for a type that the caller cannot skip.
var ErrUnknownType = errors.New("unknown type")

// LengthError reports a length field that disagrees with the bytes
// actually available, or a fixed-size field of the wrong size.
type LengthError struct {
	What string
	Want int
	Have int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s: need %d bytes, have %d", e.What, e.Want, e.Have)
}

// MandatoryFieldError reports a required field that is absent, either while
// serializing a value or after a full pass over a TLV list.
type MandatoryFieldError struct {
	Field string
	Code  string
}

func (e *MandatoryFieldError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("The %s (%s) is mandatory field.", e.Field, e.Code)
	}
	return fmt.Sprintf("The %s is mandatory field.", e.Field)
}

// TypeMismatchError is returned when a serializer is handed a value of a
// type it does not handle.
type TypeMismatchError struct {
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("wrong value type: expected %s, got %s", e.Expected, e.Actual)
}

// MissingPrerequisiteError is returned when a nested element appears before
// the element that must declare it.
type MissingPrerequisiteError struct {
	What     string
	Requires string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("%s present without %s", e.What, e.Requires)
}

// Mismatch builds a TypeMismatchError for value v.
func Mismatch(expected string, v any) error {
	return &TypeMismatchError{Expected: expected, Actual: fmt.Sprintf("%T", v)}
}

// Truncated builds a LengthError for a read that ran out of bytes.
func Truncated(what string, want, have int) error {
	return &LengthError{What: what, Want: want, Have: have}
}
