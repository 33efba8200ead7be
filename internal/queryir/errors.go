package queryir

import (
	"errors"
	"fmt"
)

// CompileError represents a fatal error detected while compiling a query.
//
// Compile errors include:
//   - Unknown reference: label, attribute or layer that does not exist
//   - Type mismatch: comparison between incompatible operand types
//   - Invalid operator: comparator not allowed for the operand types
//   - Invalid repetition: sequence bounds violating min >= 0 and max >= min
//   - Bound reference: result refers to a label that is not selectable
//
// A CompileError never accompanies partial output: a failed compile
// returns no SQL.
type CompileError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Label is the offending label, attribute or expression, if known.
	Label string
}

// ErrorCode categorizes compile errors.
type ErrorCode string

const (
	// ErrCodeUnknownReference indicates a label, attribute or layer that cannot be resolved.
	ErrCodeUnknownReference ErrorCode = "UNKNOWN_REFERENCE"

	// ErrCodeTypeMismatch indicates operands whose types cannot be compared.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeInvalidOperator indicates a comparator or math operator not valid for its operands.
	ErrCodeInvalidOperator ErrorCode = "INVALID_OPERATOR"

	// ErrCodeInvalidQuantifier indicates a malformed or misplaced quantifier.
	ErrCodeInvalidQuantifier ErrorCode = "INVALID_QUANTIFIER"

	// ErrCodeInvalidRepetition indicates sequence repetition bounds that are out of range.
	ErrCodeInvalidRepetition ErrorCode = "INVALID_REPETITION"

	// ErrCodeTooManyCountedEntities indicates an analysis counting more than one entity.
	ErrCodeTooManyCountedEntities ErrorCode = "TOO_MANY_COUNTED_ENTITIES"

	// ErrCodeBoundReference indicates a result referring to a label that is not selectable.
	ErrCodeBoundReference ErrorCode = "BOUND_REFERENCE"

	// ErrCodeUnsupported indicates a well-formed construct the compiler does not handle.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"

	// ErrCodeInvalidQuery indicates a malformed query document.
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s: %s (label=%s)", e.Code, e.Message, e.Label)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf creates a CompileError with a formatted message.
func Errorf(code ErrorCode, label, format string, args ...any) *CompileError {
	return &CompileError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Label:   label,
	}
}

// IsCode returns true if err is a CompileError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf returns the code of a wrapped CompileError, or "" when err is not one.
func CodeOf(err error) ErrorCode {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
