package index

import (
	"errors"
	"fmt"
)

// Error reports an index operation that cannot be served.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Op is the requested operation, if any.
	Op string
}

// ErrorCode categorizes index errors.
type ErrorCode string

const (
	// ErrCodeUnsupportedOperation indicates an operator the index cannot answer.
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrCodeInvalidOperand indicates an operand of the wrong shape (in without an array).
	ErrCodeInvalidOperand ErrorCode = "INVALID_OPERAND"

	// ErrCodeInvalidPath indicates an index over an empty path.
	ErrCodeInvalidPath ErrorCode = "INVALID_PATH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnsupported returns true if err is an unsupported-operation error.
// Uses errors.As to handle wrapped errors.
func IsUnsupported(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code == ErrCodeUnsupportedOperation
	}
	return false
}
