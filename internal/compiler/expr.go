package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

const (
	refPrefix = "$"
	litForm   = "lit"
	refForm   = "ref"
)

// compileExpr converts a CUE value into an expression. Operator names are
// checked here; arities are left to queryir.Validate.
func compileExpr(v cue.Value, field string) (queryir.Expr, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a concrete string", Pos: v.Pos()}
		}
		return stringExpr(s, field, v)
	case cue.StructKind:
		return callExpr(v, field)
	default:
		val, err := valueToIR(v, field)
		if err != nil {
			return nil, err
		}
		return &queryir.Val{Value: val}, nil
	}
}

func stringExpr(s, field string, v cue.Value) (queryir.Expr, error) {
	switch {
	case strings.HasPrefix(s, refPrefix+refPrefix):
		return &queryir.Val{Value: ir.IRString(s[1:])}, nil
	case strings.HasPrefix(s, refPrefix):
		return refExpr(s[1:], field, v)
	default:
		return &queryir.Val{Value: ir.IRString(s)}, nil
	}
}

func refExpr(path, field string, v cue.Value) (queryir.Expr, error) {
	parts := strings.Split(path, ".")
	if slices.Contains(parts, "") {
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("invalid reference %q", path), Pos: v.Pos()}
	}
	return &queryir.Ref{Path: parts}, nil
}

// callExpr handles the single-field struct forms.
func callExpr(v cue.Value, field string) (queryir.Expr, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var name string
	var arg cue.Value
	n := 0
	for iter.Next() {
		name, arg = iter.Label(), iter.Value()
		n++
	}
	if n != 1 {
		return nil, &CompileError{Field: field, Message: "expression struct must have exactly one field", Pos: v.Pos()}
	}

	switch {
	case name == litForm:
		val, err := valueToIR(arg, field+"."+litForm)
		if err != nil {
			return nil, err
		}
		return &queryir.Val{Value: val}, nil
	case name == refForm:
		parts, err := stringList(arg, field+"."+refForm)
		if err != nil {
			return nil, err
		}
		if len(parts) == 1 {
			return refExpr(parts[0], field, arg)
		}
		return &queryir.Ref{Path: parts}, nil
	case queryir.IsAggregateName(name):
		args, err := callArgs(arg, field+"."+name)
		if err != nil {
			return nil, err
		}
		return &queryir.Aggregate{Name: name, Args: args}, nil
	case isFunction(name):
		args, err := callArgs(arg, field+"."+name)
		if err != nil {
			return nil, err
		}
		return &queryir.Func{Name: name, Args: args}, nil
	default:
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("unknown operator %q", name), Pos: v.Pos()}
	}
}

// callArgs reads a list as the argument list and anything else as a single
// argument.
func callArgs(v cue.Value, field string) ([]queryir.Expr, error) {
	if v.IncompleteKind() != cue.ListKind {
		e, err := compileExpr(v, field)
		if err != nil {
			return nil, err
		}
		return []queryir.Expr{e}, nil
	}
	return compileExprList(v, field)
}

func isFunction(name string) bool {
	return slices.Contains(queryir.KnownFunctions(), name)
}

// valueToIR converts a concrete CUE value to an IR value.
func valueToIR(v cue.Value, field string) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "integer out of range", Pos: v.Pos()}
		}
		return ir.IRInt(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRFloat(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := valueToIR(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := valueToIR(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{Field: field, Message: "must be a concrete value", Pos: v.Pos()}
	}
}
