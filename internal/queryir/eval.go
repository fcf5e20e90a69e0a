package queryir

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/livedb/internal/ir"
)

// Evaluator computes an expression against a row.
// The result is nil when the expression is undefined for the row.
type Evaluator func(row ir.IRValue) ir.IRValue

// Predicate reports whether a row satisfies a boolean expression.
type Predicate func(row ir.IRValue) bool

// Compile builds an Evaluator for expr.
//
// Aggregates cannot be compiled directly; grouped queries evaluate them
// with EvalAggregate. Unknown operators, wrong arity and empty references
// return a *ValidationError.
func Compile(expr Expr) (Evaluator, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}
	return compile(expr)
}

// CompileFilter compiles a boolean expression into a Predicate.
// A nil expression matches every row.
func CompileFilter(expr Expr) (Predicate, error) {
	if expr == nil {
		return func(ir.IRValue) bool { return true }, nil
	}
	eval, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(row ir.IRValue) bool {
		return IsTrue(eval(row))
	}, nil
}

// MustCompileFilter is CompileFilter that panics on error.
func MustCompileFilter(expr Expr) Predicate {
	p, err := CompileFilter(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// IsTrue reports whether v is exactly boolean true.
func IsTrue(v ir.IRValue) bool {
	b, ok := v.(ir.IRBool)
	return ok && bool(b)
}

func compile(expr Expr) (Evaluator, error) {
	switch e := expr.(type) {
	case *Ref:
		path := e.Path
		return func(row ir.IRValue) ir.IRValue {
			v, ok := ir.GetPath(row, path)
			if !ok {
				return nil
			}
			return v
		}, nil
	case *Val:
		v := e.Value
		return func(ir.IRValue) ir.IRValue { return v }, nil
	case *Func:
		return compileFunc(e)
	case *Aggregate:
		return nil, &ValidationError{
			Code:    ErrCodeAggregateOutsideGroup,
			Message: fmt.Sprintf("aggregate %s cannot be evaluated per row", e.Name),
			Expr:    Format(e),
		}
	default:
		return nil, &ValidationError{Code: ErrCodeUnknownExpression, Message: fmt.Sprintf("unknown expression type %T", expr)}
	}
}

func compileArgs(args []Expr) ([]Evaluator, error) {
	out := make([]Evaluator, len(args))
	for i, a := range args {
		ev, err := compile(a)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

func compileFunc(f *Func) (Evaluator, error) {
	args, err := compileArgs(f.Args)
	if err != nil {
		return nil, err
	}

	switch f.Name {
	case FuncEq, FuncGt, FuncGte, FuncLt, FuncLte:
		op := f.Name
		left, right := args[0], args[1]
		return func(row ir.IRValue) ir.IRValue {
			return compareValues(op, left(row), right(row))
		}, nil

	case FuncIn:
		needle, haystack := args[0], args[1]
		return func(row ir.IRValue) ir.IRValue {
			return evalIn(needle(row), haystack(row))
		}, nil

	case FuncAnd:
		return func(row ir.IRValue) ir.IRValue {
			sawNull := false
			for _, a := range args {
				switch v := a(row).(type) {
				case ir.IRBool:
					if !bool(v) {
						return ir.IRBool(false)
					}
				case nil, ir.IRNull:
					sawNull = true
				default:
					return ir.IRBool(false)
				}
			}
			if sawNull {
				return ir.Null
			}
			return ir.IRBool(true)
		}, nil

	case FuncOr:
		return func(row ir.IRValue) ir.IRValue {
			sawNull := false
			for _, a := range args {
				switch v := a(row).(type) {
				case ir.IRBool:
					if bool(v) {
						return ir.IRBool(true)
					}
				case nil, ir.IRNull:
					sawNull = true
				}
			}
			if sawNull {
				return ir.Null
			}
			return ir.IRBool(false)
		}, nil

	case FuncNot:
		arg := args[0]
		return func(row ir.IRValue) ir.IRValue {
			switch v := arg(row).(type) {
			case ir.IRBool:
				return !v
			case nil, ir.IRNull:
				return ir.Null
			default:
				return ir.IRBool(false)
			}
		}, nil

	case FuncLike, FuncILike:
		return compileLike(f, args)

	case FuncIsNull:
		arg := args[0]
		return func(row ir.IRValue) ir.IRValue {
			_, ok := arg(row).(ir.IRNull)
			return ir.IRBool(ok)
		}, nil

	case FuncIsUndefined:
		arg := args[0]
		return func(row ir.IRValue) ir.IRValue {
			return ir.IRBool(arg(row) == nil)
		}, nil

	case FuncUpper, FuncLower:
		arg, upper := args[0], f.Name == FuncUpper
		return func(row ir.IRValue) ir.IRValue {
			v := arg(row)
			s, ok := v.(ir.IRString)
			if !ok {
				return v
			}
			if upper {
				return ir.IRString(strings.ToUpper(string(s)))
			}
			return ir.IRString(strings.ToLower(string(s)))
		}, nil

	case FuncLength:
		arg := args[0]
		return func(row ir.IRValue) ir.IRValue {
			switch v := arg(row).(type) {
			case ir.IRString:
				return ir.IRInt(len([]rune(string(v))))
			case ir.IRArray:
				return ir.IRInt(len(v))
			default:
				return ir.IRInt(0)
			}
		}, nil

	case FuncConcat:
		return func(row ir.IRValue) ir.IRValue {
			var b strings.Builder
			for _, a := range args {
				b.WriteString(stringify(a(row)))
			}
			return ir.IRString(b.String())
		}, nil

	case FuncCoalesce:
		return func(row ir.IRValue) ir.IRValue {
			for _, a := range args {
				if v := a(row); !ir.IsNullish(v) {
					return v
				}
			}
			return ir.Null
		}, nil

	case FuncAdd:
		return func(row ir.IRValue) ir.IRValue {
			var isum int64
			var fsum float64
			isFloat := false
			for _, a := range args {
				switch v := a(row).(type) {
				case ir.IRInt:
					isum += int64(v)
				case ir.IRFloat:
					fsum += float64(v)
					isFloat = true
				}
			}
			if isFloat {
				return ir.IRFloat(fsum + float64(isum))
			}
			return ir.IRInt(isum)
		}, nil

	default:
		return nil, &ValidationError{
			Code:    ErrCodeUnknownFunction,
			Message: fmt.Sprintf("unknown function %q", f.Name),
			Expr:    Format(f),
		}
	}
}

// compareValues implements eq/gt/gte/lt/lte with three-valued logic.
func compareValues(op string, a, b ir.IRValue) ir.IRValue {
	if ir.IsNullish(a) || ir.IsNullish(b) {
		return ir.Null
	}
	if op == FuncEq {
		return ir.IRBool(ir.Equal(a, b))
	}
	c := ir.Compare(a, b)
	switch op {
	case FuncGt:
		return ir.IRBool(c > 0)
	case FuncGte:
		return ir.IRBool(c >= 0)
	case FuncLt:
		return ir.IRBool(c < 0)
	default:
		return ir.IRBool(c <= 0)
	}
}

// Matches reports whether value satisfies "value <op> operand" for the
// comparison operators and in. Used by indexes and overlay re-checks.
func Matches(op string, value, operand ir.IRValue) bool {
	if op == FuncIn {
		return IsTrue(evalIn(value, operand))
	}
	return IsTrue(compareValues(op, value, operand))
}

func evalIn(needle, haystack ir.IRValue) ir.IRValue {
	arr, ok := haystack.(ir.IRArray)
	if !ok {
		return ir.IRBool(false)
	}
	if ir.IsNullish(needle) {
		return ir.Null
	}
	for _, v := range arr {
		if ir.Equal(needle, v) {
			return ir.IRBool(true)
		}
	}
	return ir.IRBool(false)
}

func compileLike(f *Func, args []Evaluator) (Evaluator, error) {
	insensitive := f.Name == FuncILike
	value, pattern := args[0], args[1]

	// Literal patterns compile once.
	if lit, ok := f.Args[1].(*Val); ok {
		if s, ok := lit.Value.(ir.IRString); ok {
			re := likeRegexp(string(s), insensitive)
			return func(row ir.IRValue) ir.IRValue {
				return matchLike(re, value(row))
			}, nil
		}
	}

	return func(row ir.IRValue) ir.IRValue {
		p := pattern(row)
		if ir.IsNullish(p) {
			return ir.Null
		}
		s, ok := p.(ir.IRString)
		if !ok {
			if ir.IsNullish(value(row)) {
				return ir.Null
			}
			return ir.IRBool(false)
		}
		return matchLike(likeRegexp(string(s), insensitive), value(row))
	}, nil
}

func matchLike(re *regexp.Regexp, v ir.IRValue) ir.IRValue {
	if ir.IsNullish(v) {
		return ir.Null
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return ir.IRBool(false)
	}
	return ir.IRBool(re.MatchString(string(s)))
}

// likeRegexp translates a SQL LIKE pattern: % matches any run, _ one character.
func likeRegexp(pattern string, insensitive bool) *regexp.Regexp {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?is)")
	} else {
		b.WriteString("(?s)")
	}
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

func stringify(v ir.IRValue) string {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return ""
	case ir.IRString:
		return string(val)
	default:
		return ir.String(val)
	}
}
