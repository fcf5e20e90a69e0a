package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// Validation error codes (E100-E199)
const (
	// Collection errors (E101-E109)
	ErrMissingKey       = "E101" // key is required
	ErrInvalidStorage   = "E102" // unknown storage backend
	ErrInvalidAutoIndex = "E103" // unknown autoIndex mode
	ErrInvalidIndex     = "E104" // empty index path
	ErrDuplicateName    = "E105" // duplicate collection/query name or alias
	ErrInvalidRow       = "E106" // seed row without a valid or unique key
	ErrInvalidSyncWhere = "E107" // sync filter on a backend without one

	// Query errors (E110-E119)
	ErrUnknownSource        = "E110" // source names no collection or query
	ErrInvalidJoinKind      = "E111" // unknown join kind
	ErrInvalidExpression    = "E112" // expression fails validation
	ErrInvalidJoinCondition = "E113" // join condition is not an equality
	ErrInvalidDirection     = "E114" // unknown order direction
	ErrInvalidLimit         = "E115" // negative limit or offset
	ErrUnknownAlias         = "E116" // reference to an alias not in scope
	ErrQueryCycle           = "E117" // queries read each other
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks compiled definitions. It returns all errors found, in
// declaration order, and does not fail fast.
func Validate(defs *Definitions) []ValidationError {
	var errs []ValidationError
	names := make(map[string]bool)

	for i := range defs.Collections {
		c := &defs.Collections[i]
		field := "collection." + c.Name
		if names[c.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate name %q", c.Name),
				Code:    ErrDuplicateName,
				Line:    c.Pos.Line(),
			})
		}
		names[c.Name] = true
		errs = append(errs, validateCollection(c)...)
	}

	for i := range defs.Queries {
		q := &defs.Queries[i]
		field := "query." + q.Name
		if names[q.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate name %q", q.Name),
				Code:    ErrDuplicateName,
				Line:    q.Pos.Line(),
			})
		}
		names[q.Name] = true
		errs = append(errs, validateQuery(defs, q)...)
	}

	for _, c := range FindCycles(defs) {
		line := 0
		if q, ok := defs.Query(c.Path[0]); ok {
			line = q.Pos.Line()
		}
		errs = append(errs, ValidationError{
			Field:   "query." + c.Path[0],
			Message: c.Message,
			Code:    ErrQueryCycle,
			Line:    line,
		})
	}
	return errs
}

func validateCollection(c *CollectionDef) []ValidationError {
	var errs []ValidationError
	field := "collection." + c.Name
	line := c.Pos.Line()
	add := func(f, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: f, Message: fmt.Sprintf(format, args...), Code: code, Line: line})
	}

	// E101: key is required
	if len(c.Key) == 0 || slices.Contains(c.Key, "") {
		add(field+".key", ErrMissingKey, "key must name at least one field")
	}

	// E102: storage backend
	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageBolt:
	default:
		add(field+".storage", ErrInvalidStorage, "invalid storage %q, must be \"memory\", \"sqlite\", or \"bolt\"", c.Storage)
	}

	// E103: autoIndex mode
	switch c.AutoIndex {
	case "", collection.AutoIndexEager, collection.AutoIndexOff:
	default:
		add(field+".autoIndex", ErrInvalidAutoIndex, "invalid autoIndex %q, must be \"eager\" or \"off\"", c.AutoIndex)
	}

	// E104: index paths
	for i, path := range c.Indexes {
		if slices.Contains(path, "") {
			add(fmt.Sprintf("%s.indexes[%d]", field, i), ErrInvalidIndex, "invalid index path %q", strings.Join(path, "."))
		}
	}

	// E107: sync filters only exist for the SQLite store
	if c.Where != nil {
		if c.Storage != StorageSQLite {
			add(field+".where", ErrInvalidSyncWhere, "where is only supported with sqlite storage")
		}
		if err := queryir.Validate(c.Where); err != nil {
			add(field+".where", ErrInvalidExpression, "%v", err)
		} else if queryir.ContainsAggregate(c.Where) {
			add(field+".where", ErrInvalidExpression, "aggregates are not allowed in where")
		}
	}

	// E106: seed rows need distinct valid keys
	if len(c.Key) > 0 {
		getKey := c.GetKey()
		seen := make(map[string]bool)
		for i, row := range c.Rows {
			f := fmt.Sprintf("%s.rows[%d]", field, i)
			key := getKey(row)
			if err := ir.ValidateKey(key); err != nil {
				add(f, ErrInvalidRow, "%v", err)
				continue
			}
			ks := ir.KeyString(key)
			if seen[ks] {
				add(f, ErrInvalidRow, "duplicate key %s", ks)
			}
			seen[ks] = true
		}
	}
	return errs
}

func validateQuery(defs *Definitions, q *QueryDef) []ValidationError {
	var errs []ValidationError
	field := "query." + q.Name
	line := q.Pos.Line()
	add := func(f, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: f, Message: fmt.Sprintf(format, args...), Code: code, Line: line})
	}

	var scope []string
	checkSource := func(f string, s SourceDef) {
		// E110: unknown source
		_, isCollection := defs.Collection(s.Source)
		_, isQuery := defs.Query(s.Source)
		if !isCollection && !isQuery {
			add(f+".source", ErrUnknownSource, "unknown source %q", s.Source)
		}
		// E105: aliases are unique within a query
		if slices.Contains(scope, s.Alias) {
			add(f+".alias", ErrDuplicateName, "duplicate alias %q", s.Alias)
		}
		scope = append(scope, s.Alias)
	}

	// checkExpr validates e and its references against the aliases in scope
	// and any extra names.
	checkExpr := func(f string, e queryir.Expr, allowAggregates bool, extra ...string) {
		if err := queryir.Validate(e); err != nil {
			add(f, ErrInvalidExpression, "%v", err)
			return
		}
		if !allowAggregates && queryir.ContainsAggregate(e) {
			add(f, ErrInvalidExpression, "aggregates are not allowed here")
		}
		for _, alias := range queryir.Sources(e) {
			if !slices.Contains(scope, alias) && !slices.Contains(extra, alias) {
				add(f, ErrUnknownAlias, "unknown alias %q in %s", alias, queryir.Format(e))
			}
		}
	}

	checkSource(field+".from", q.From)
	for i, j := range q.Joins {
		f := fmt.Sprintf("%s.join[%d]", field, i)
		checkSource(f, j.SourceDef)

		// E111: join kind
		switch j.Kind {
		case query.InnerJoin, query.LeftJoin, query.RightJoin, query.FullJoin:
		default:
			add(f+".kind", ErrInvalidJoinKind, "invalid join kind %q, must be \"inner\", \"left\", \"right\", or \"full\"", j.Kind)
		}

		// E113: join condition
		fn, ok := j.On.(*queryir.Func)
		if !ok || fn.Name != queryir.FuncEq || len(fn.Args) != 2 {
			add(f+".on", ErrInvalidJoinCondition, "join condition must be eq(a, b), got %s", queryir.Format(j.On))
			continue
		}
		checkExpr(f+".on", j.On, false)
	}

	grouped := len(q.GroupBy) > 0 || q.Having != nil
	for _, s := range q.Select {
		if s.Expr != nil && queryir.ContainsAggregate(s.Expr) {
			grouped = true
		}
	}

	if q.Where != nil {
		checkExpr(field+".where", q.Where, false)
	}
	for i, g := range q.GroupBy {
		checkExpr(fmt.Sprintf("%s.groupBy[%d]", field, i), g, false)
	}
	if q.Having != nil {
		checkExpr(field+".having", q.Having, true)
	}
	for _, s := range q.Select {
		checkExpr(field+".select."+s.Name, s.Expr, grouped)
	}
	selectNames := make([]string, len(q.Select))
	for i, s := range q.Select {
		selectNames[i] = s.Name
	}
	for i, o := range q.OrderBy {
		f := fmt.Sprintf("%s.orderBy[%d]", field, i)
		checkExpr(f, o.Expr, grouped, selectNames...)
		// E114: order direction
		if o.Direction != query.Asc && o.Direction != query.Desc {
			add(f+".dir", ErrInvalidDirection, "invalid direction %q, must be \"asc\" or \"desc\"", o.Direction)
		}
	}

	// E115: limit and offset
	if q.Limit < 0 {
		add(field+".limit", ErrInvalidLimit, "limit must not be negative")
	}
	if q.Offset < 0 {
		add(field+".offset", ErrInvalidLimit, "offset must not be negative")
	}
	return errs
}
