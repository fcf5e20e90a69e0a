package query

import (
	"fmt"
	"slices"

	"github.com/roach88/livedb/internal/queryir"
)

// Validate checks that q is well formed: sources exist, aliases are unique,
// every reference is in scope, join conditions are oriented equalities and
// aggregates only appear in select, having and order by of grouped queries.
func Validate(q *Context) error {
	if q == nil {
		return &CompileError{Code: ErrCodeInvalidSource, Message: "query is nil"}
	}
	if err := validateSource(q.From.Alias, q.From.Source, "from"); err != nil {
		return err
	}

	scope := []string{q.From.Alias}
	for _, j := range q.Joins {
		if err := validateSource(j.Alias, j.Source, "join"); err != nil {
			return err
		}
		if slices.Contains(scope, j.Alias) {
			return &CompileError{Code: ErrCodeDuplicateAlias, Message: fmt.Sprintf("alias %q is used twice", j.Alias), Clause: "join"}
		}
		switch j.Kind {
		case InnerJoin, LeftJoin, RightJoin, FullJoin:
		default:
			return &CompileError{Code: ErrCodeInvalidJoin, Message: fmt.Sprintf("join %s: unknown kind %q", j.Alias, j.Kind), Clause: "join"}
		}
		for _, e := range []queryir.Expr{j.Left, j.Right} {
			if err := validateExpr(e, "join", false); err != nil {
				return err
			}
		}
		if !withinScope(j.Left, scope) || !onlyAlias(j.Right, j.Alias) {
			return &CompileError{
				Code:    ErrCodeInvalidJoin,
				Message: fmt.Sprintf("join %s: left side %s must reference earlier sources and right side %s only %s", j.Alias, queryir.Format(j.Left), queryir.Format(j.Right), j.Alias),
				Clause:  "join",
			}
		}
		scope = append(scope, j.Alias)
	}

	for _, w := range q.Where {
		if err := validateScoped(w, "where", false, scope, nil); err != nil {
			return err
		}
	}
	for _, g := range q.GroupBy {
		if err := validateScoped(g, "group by", false, scope, nil); err != nil {
			return err
		}
	}
	for _, h := range q.Having {
		if err := validateScoped(h, "having", true, scope, nil); err != nil {
			return err
		}
	}

	grouped := q.Grouped()
	names := make([]string, 0, len(q.Select))
	for _, f := range q.Select {
		if f.Name == "" {
			return &CompileError{Code: ErrCodeInvalidSelect, Message: "select field has no name", Clause: "select"}
		}
		if slices.Contains(names, f.Name) {
			return &CompileError{Code: ErrCodeInvalidSelect, Message: fmt.Sprintf("select field %q is used twice", f.Name), Clause: "select"}
		}
		names = append(names, f.Name)
		if err := validateScoped(f.Expr, "select", grouped, scope, nil); err != nil {
			return err
		}
		if grouped && !groupedExpr(f.Expr, q.GroupBy) {
			return &CompileError{
				Code:    ErrCodeInvalidSelect,
				Message: fmt.Sprintf("select field %q must be an aggregate or a group by expression", f.Name),
				Clause:  "select",
			}
		}
	}
	if grouped && len(q.Select) == 0 {
		return &CompileError{Code: ErrCodeInvalidSelect, Message: "grouped queries need a select", Clause: "select"}
	}

	for _, o := range q.OrderBy {
		if err := validateScoped(o.Expr, "order by", grouped, scope, names); err != nil {
			return err
		}
		switch o.Direction {
		case Asc, Desc:
		default:
			return &CompileError{Code: ErrCodeInvalidExpression, Message: fmt.Sprintf("unknown direction %q", o.Direction), Clause: "order by"}
		}
	}

	if q.Limit < 0 || q.Offset < 0 {
		return &CompileError{Code: ErrCodeInvalidLimit, Message: fmt.Sprintf("limit %d and offset %d must not be negative", q.Limit, q.Offset), Clause: "limit"}
	}
	return nil
}

func validateSource(alias string, src Source, clause string) error {
	if alias == "" {
		return &CompileError{Code: ErrCodeInvalidSource, Message: "source alias is empty", Clause: clause}
	}
	switch s := src.(type) {
	case *CollectionSource:
		if s != nil && s.Collection != nil {
			return nil
		}
	case *SubquerySource:
		if s != nil && s.Query != nil {
			if err := Validate(s.Query); err != nil {
				return fmt.Errorf("subquery %s: %w", alias, err)
			}
			return nil
		}
	}
	return &CompileError{Code: ErrCodeInvalidSource, Message: fmt.Sprintf("source %q is missing", alias), Clause: clause}
}

func validateExpr(e queryir.Expr, clause string, aggregates bool) error {
	if err := queryir.Validate(e); err != nil {
		return &CompileError{Code: ErrCodeInvalidExpression, Message: err.Error(), Clause: clause}
	}
	if !aggregates && queryir.ContainsAggregate(e) {
		return &CompileError{Code: ErrCodeMisplacedAggregate, Message: fmt.Sprintf("aggregate in %s", queryir.Format(e)), Clause: clause}
	}
	return nil
}

// validateScoped checks e and that each reference starts with an alias in
// scope or, for order by, a select name.
func validateScoped(e queryir.Expr, clause string, aggregates bool, scope, names []string) error {
	if err := validateExpr(e, clause, aggregates); err != nil {
		return err
	}
	var bad string
	queryir.Walk(e, func(x queryir.Expr) bool {
		if bad != "" {
			return false
		}
		if r, ok := x.(*queryir.Ref); ok && !slices.Contains(scope, r.Path[0]) && !slices.Contains(names, r.Path[0]) {
			bad = r.Path[0]
		}
		return true
	})
	if bad != "" {
		return &CompileError{Code: ErrCodeUnknownAlias, Message: fmt.Sprintf("unknown source %q in %s", bad, queryir.Format(e)), Clause: clause}
	}
	return nil
}

// groupedExpr reports whether e can be computed per group: it is a group by
// expression, or every reference outside aggregates sits inside one.
func groupedExpr(e queryir.Expr, groupBy []queryir.Expr) bool {
	ok := true
	queryir.Walk(e, func(x queryir.Expr) bool {
		if !ok || isGroupKey(x, groupBy) {
			return false
		}
		switch x.(type) {
		case *queryir.Aggregate:
			return false
		case *queryir.Ref:
			ok = false
			return false
		}
		return true
	})
	return ok
}

func isGroupKey(e queryir.Expr, groupBy []queryir.Expr) bool {
	s := queryir.Format(e)
	for _, g := range groupBy {
		if queryir.Format(g) == s {
			return true
		}
	}
	return false
}
