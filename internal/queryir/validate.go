package queryir

import (
	"errors"
	"fmt"
)

// ValidationError reports an expression that cannot be compiled.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// Expr is the formatted offending expression, if known.
	Expr string
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodeUnknownFunction indicates an operator or aggregate name that does not exist.
	ErrCodeUnknownFunction ValidationErrorCode = "UNKNOWN_FUNCTION"

	// ErrCodeArity indicates the wrong number of arguments.
	ErrCodeArity ValidationErrorCode = "INVALID_ARITY"

	// ErrCodeEmptyRef indicates a reference with no path.
	ErrCodeEmptyRef ValidationErrorCode = "EMPTY_REFERENCE"

	// ErrCodeNestedAggregate indicates an aggregate inside another aggregate.
	ErrCodeNestedAggregate ValidationErrorCode = "NESTED_AGGREGATE"

	// ErrCodeAggregateOutsideGroup indicates an aggregate where a row expression is required.
	ErrCodeAggregateOutsideGroup ValidationErrorCode = "AGGREGATE_OUTSIDE_GROUP"

	// ErrCodeUnknownExpression indicates a nil or foreign expression node.
	ErrCodeUnknownExpression ValidationErrorCode = "UNKNOWN_EXPRESSION"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("%s: %s (in %s)", e.Code, e.Message, e.Expr)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError returns true if err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks operator names, arities and references of expr.
//
// Validate is a pure function with no side effects.
func Validate(expr Expr) error {
	return validate(expr, false)
}

func validate(expr Expr, inAggregate bool) error {
	switch e := expr.(type) {
	case *Ref:
		if e == nil || len(e.Path) == 0 {
			return &ValidationError{Code: ErrCodeEmptyRef, Message: "reference path is empty"}
		}
		return nil
	case *Val:
		return nil
	case *Func:
		ar, ok := funcArity[e.Name]
		if !ok {
			return &ValidationError{Code: ErrCodeUnknownFunction, Message: fmt.Sprintf("unknown function %q", e.Name), Expr: Format(e)}
		}
		if err := checkArity(e.Name, ar, len(e.Args), e); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := validate(a, inAggregate); err != nil {
				return err
			}
		}
		return nil
	case *Aggregate:
		if inAggregate {
			return &ValidationError{Code: ErrCodeNestedAggregate, Message: "aggregates cannot be nested", Expr: Format(e)}
		}
		ar, ok := aggArity[e.Name]
		if !ok {
			return &ValidationError{Code: ErrCodeUnknownFunction, Message: fmt.Sprintf("unknown aggregate %q", e.Name), Expr: Format(e)}
		}
		if err := checkArity(e.Name, ar, len(e.Args), e); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := validate(a, true); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Code: ErrCodeUnknownExpression, Message: fmt.Sprintf("unknown expression type %T", expr)}
	}
}

func checkArity(name string, ar arity, n int, e Expr) error {
	if n < ar.min || (ar.max >= 0 && n > ar.max) {
		want := fmt.Sprintf("%d", ar.min)
		switch {
		case ar.max < 0:
			want = fmt.Sprintf("at least %d", ar.min)
		case ar.max != ar.min:
			want = fmt.Sprintf("%d to %d", ar.min, ar.max)
		}
		return &ValidationError{
			Code:    ErrCodeArity,
			Message: fmt.Sprintf("%s expects %s argument(s), got %d", name, want, n),
			Expr:    Format(e),
		}
	}
	return nil
}
