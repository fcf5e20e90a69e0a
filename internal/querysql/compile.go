package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// ErrUnsupported is wrapped by errors for expressions with no SQL form.
var ErrUnsupported = errors.New("expression has no SQL form")

// Compiler compiles predicates over the JSON rows held in Column.
type Compiler struct {
	Column string
}

// NewCompiler creates a Compiler for the given JSON column.
func NewCompiler(column string) *Compiler {
	return &Compiler{Column: column}
}

// fragment is a SQL snippet and the parameters its placeholders bind, in
// order.
type fragment struct {
	sql    string
	params []any
}

func frag(sql string, params ...any) fragment {
	return fragment{sql: sql, params: params}
}

// Where compiles expr into a WHERE clause body. A nil expression compiles to
// "1 = 1".
func (c *Compiler) Where(expr queryir.Expr) (string, []any, error) {
	if expr == nil {
		return "1 = 1", nil, nil
	}
	if err := queryir.Validate(expr); err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	f, err := c.compile(expr)
	if err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	return f.sql, f.params, nil
}

// IsUnsupported reports whether err means the expression has no SQL form.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

func unsupported(expr queryir.Expr, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrUnsupported, queryir.Format(expr), reason)
}

func (c *Compiler) compile(expr queryir.Expr) (fragment, error) {
	switch e := expr.(type) {
	case *queryir.Ref:
		return c.extract(e.Path), nil
	case *queryir.Val:
		return literal(e)
	case *queryir.Func:
		return c.compileFunc(e)
	case *queryir.Aggregate:
		return fragment{}, unsupported(e, "aggregates are evaluated per group")
	default:
		return fragment{}, fmt.Errorf("unknown expression type %T", expr)
	}
}

func (c *Compiler) extract(path []string) fragment {
	return frag(fmt.Sprintf("json_extract(%s, ?)", c.Column), JSONPath(path))
}

func (c *Compiler) jsonType(path []string) fragment {
	return frag(fmt.Sprintf("json_type(%s, ?)", c.Column), JSONPath(path))
}

// JSONPath renders a field path as a SQLite JSON path: $."a"."b".
func JSONPath(path []string) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, p := range path {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(p, `"`, `\"`))
		b.WriteByte('"')
	}
	return b.String()
}

func literal(v *queryir.Val) (fragment, error) {
	if ir.IsNullish(v.Value) {
		return frag("NULL"), nil
	}
	p, err := Param(v.Value)
	if err != nil {
		return fragment{}, unsupported(v, err.Error())
	}
	return frag("?", p), nil
}

// Param converts a scalar IR value to a SQL parameter.
func Param(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRFloat:
		return float64(val), nil
	case ir.IRBool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("%T cannot be bound as a SQL parameter", v)
	}
}

func (c *Compiler) args(args []queryir.Expr) ([]fragment, error) {
	out := make([]fragment, len(args))
	for i, a := range args {
		f, err := c.compile(a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// join combines fragments as "(a sep b sep c)".
func join(parts []fragment, sep string) fragment {
	sqls := make([]string, len(parts))
	var params []any
	for i, p := range parts {
		sqls[i] = p.sql
		params = append(params, p.params...)
	}
	return fragment{sql: "(" + strings.Join(sqls, sep) + ")", params: params}
}

// wrap formats parts into template; each %s takes one part, in order.
func wrap(template string, parts ...fragment) fragment {
	sqls := make([]any, len(parts))
	var params []any
	for i, p := range parts {
		sqls[i] = p.sql
		params = append(params, p.params...)
	}
	return fragment{sql: fmt.Sprintf(template, sqls...), params: params}
}

var comparisons = map[string]string{
	queryir.FuncEq:  " = ",
	queryir.FuncGt:  " > ",
	queryir.FuncGte: " >= ",
	queryir.FuncLt:  " < ",
	queryir.FuncLte: " <= ",
}

func (c *Compiler) compileFunc(f *queryir.Func) (fragment, error) {
	switch f.Name {
	case queryir.FuncIn:
		return c.compileIn(f)
	case queryir.FuncIsNull:
		if ref, ok := f.Args[0].(*queryir.Ref); ok {
			return wrap("(%s = 'null')", c.jsonType(ref.Path)), nil
		}
		arg, err := c.compile(f.Args[0])
		if err != nil {
			return fragment{}, err
		}
		return wrap("(%s IS NULL)", arg), nil
	case queryir.FuncIsUndefined:
		if ref, ok := f.Args[0].(*queryir.Ref); ok {
			return wrap("(%s IS NULL)", c.jsonType(ref.Path)), nil
		}
		return fragment{}, unsupported(f, "only field references can be undefined")
	case queryir.FuncLength:
		if ref, ok := f.Args[0].(*queryir.Ref); ok {
			t := c.jsonType(ref.Path)
			n := frag(fmt.Sprintf("json_array_length(%s, ?)", c.Column), JSONPath(ref.Path))
			return wrap("(CASE %s WHEN 'array' THEN %s WHEN 'text' THEN length(%s) ELSE 0 END)", t, n, c.extract(ref.Path)), nil
		}
	}

	args, err := c.args(f.Args)
	if err != nil {
		return fragment{}, err
	}

	if op, ok := comparisons[f.Name]; ok {
		return join(args, op), nil
	}

	switch f.Name {
	case queryir.FuncAnd:
		return join(args, " AND "), nil
	case queryir.FuncOr:
		return join(args, " OR "), nil
	case queryir.FuncNot:
		return wrap("(NOT %s)", args[0]), nil
	case queryir.FuncLike:
		return join(args, " LIKE "), nil
	case queryir.FuncILike:
		return wrap("(lower(%s) LIKE lower(%s))", args[0], args[1]), nil
	case queryir.FuncUpper:
		return wrap("(CASE WHEN typeof(%s) = 'text' THEN upper(%s) ELSE %s END)", args[0], args[0], args[0]), nil
	case queryir.FuncLower:
		return wrap("(CASE WHEN typeof(%s) = 'text' THEN lower(%s) ELSE %s END)", args[0], args[0], args[0]), nil
	case queryir.FuncLength:
		return wrap("(CASE WHEN typeof(%s) = 'text' THEN length(%s) ELSE 0 END)", args[0], args[0]), nil
	case queryir.FuncConcat:
		for i := range args {
			args[i] = wrap("coalesce(%s, '')", args[i])
		}
		return join(args, " || "), nil
	case queryir.FuncCoalesce:
		if len(args) == 1 {
			return args[0], nil
		}
		out := join(args, ", ")
		out.sql = "coalesce" + out.sql
		return out, nil
	case queryir.FuncAdd:
		for i := range args {
			args[i] = wrap("coalesce(%s, 0)", args[i])
		}
		return join(args, " + "), nil
	default:
		return fragment{}, unsupported(f, "unknown function")
	}
}

// compileIn handles membership in a literal array or in an array field.
func (c *Compiler) compileIn(f *queryir.Func) (fragment, error) {
	needle, err := c.compile(f.Args[0])
	if err != nil {
		return fragment{}, err
	}

	switch hay := f.Args[1].(type) {
	case *queryir.Val:
		arr, ok := hay.Value.(ir.IRArray)
		if !ok {
			return frag("0"), nil
		}
		if len(arr) == 0 {
			return frag("0"), nil
		}
		holders := make([]string, len(arr))
		params := append([]any(nil), needle.params...)
		for i, v := range arr {
			p, err := Param(v)
			if err != nil {
				return fragment{}, unsupported(f, err.Error())
			}
			holders[i] = "?"
			params = append(params, p)
		}
		return fragment{
			sql:    fmt.Sprintf("(%s IN (%s))", needle.sql, strings.Join(holders, ", ")),
			params: params,
		}, nil
	case *queryir.Ref:
		each := frag(fmt.Sprintf("SELECT value FROM json_each(%s, ?)", c.Column), JSONPath(hay.Path))
		return wrap("(%s IN (%s))", needle, each), nil
	default:
		return fragment{}, unsupported(f, "in needs a literal array or an array field")
	}
}
