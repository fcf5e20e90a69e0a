package query

import (
	"errors"
	"fmt"
)

// CompileError reports a query that cannot be built or compiled.
type CompileError struct {
	// Code identifies the error category.
	Code CompileErrorCode

	// Message is a human-readable description.
	Message string

	// Clause names the offending clause (from, join, where, ...), if known.
	Clause string
}

// CompileErrorCode categorizes compile errors.
type CompileErrorCode string

const (
	// ErrCodeInvalidSource indicates a missing or unsupported source.
	ErrCodeInvalidSource CompileErrorCode = "INVALID_SOURCE"

	// ErrCodeDuplicateAlias indicates two sources with the same alias.
	ErrCodeDuplicateAlias CompileErrorCode = "DUPLICATE_ALIAS"

	// ErrCodeUnknownAlias indicates a reference to an alias not in scope.
	ErrCodeUnknownAlias CompileErrorCode = "UNKNOWN_ALIAS"

	// ErrCodeInvalidJoin indicates a join condition that is not an equality
	// between the joined source and the sources before it.
	ErrCodeInvalidJoin CompileErrorCode = "INVALID_JOIN_CONDITION"

	// ErrCodeInvalidExpression indicates an expression that fails validation.
	ErrCodeInvalidExpression CompileErrorCode = "INVALID_EXPRESSION"

	// ErrCodeMisplacedAggregate indicates an aggregate in where, join or group by.
	ErrCodeMisplacedAggregate CompileErrorCode = "MISPLACED_AGGREGATE"

	// ErrCodeInvalidSelect indicates a bad projection: empty or duplicate
	// names, a grouped query without select, or a non-grouped expression
	// in a grouped select.
	ErrCodeInvalidSelect CompileErrorCode = "INVALID_SELECT"

	// ErrCodeInvalidLimit indicates a negative limit or offset.
	ErrCodeInvalidLimit CompileErrorCode = "INVALID_LIMIT"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Clause, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCompileError returns true if err is (or wraps) a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// HasCode returns true if err is a CompileError with the given code.
func HasCode(err error, code CompileErrorCode) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
