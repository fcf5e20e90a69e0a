package compiler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// CompileString compiles CUE source. filename is used in error positions.
func CompileString(filename, src string) (*Definitions, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// CompileFiles compiles each file and concatenates their definitions in
// argument order.
func CompileFiles(paths ...string) (*Definitions, error) {
	ctx := cuecontext.New()
	defs := &Definitions{}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definitions: %w", err)
		}
		d, err := Compile(ctx.CompileBytes(src, cue.Filename(path)))
		if err != nil {
			return nil, err
		}
		defs.Collections = append(defs.Collections, d.Collections...)
		defs.Queries = append(defs.Queries, d.Queries...)
	}
	return defs, nil
}

// Compile reads the "collection" and "query" structs of v. Both are
// optional. The first structural error is returned.
func Compile(v cue.Value) (*Definitions, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	defs := &Definitions{}
	err := eachField(v.LookupPath(cue.ParsePath("collection")), "collection", func(name string, cv cue.Value) error {
		def, err := compileCollection(name, cv)
		if err != nil {
			return err
		}
		defs.Collections = append(defs.Collections, *def)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v.LookupPath(cue.ParsePath("query")), "query", func(name string, qv cue.Value) error {
		def, err := compileQuery(name, qv)
		if err != nil {
			return err
		}
		defs.Queries = append(defs.Queries, *def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// eachField calls fn for every regular field of the struct v, in
// declaration order. A missing v is not an error.
func eachField(v cue.Value, field string, fn func(name string, v cue.Value) error) error {
	if !v.Exists() {
		return nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func lookup(v cue.Value, name string) (cue.Value, bool) {
	f := v.LookupPath(cue.ParsePath(name))
	return f, f.Exists()
}

func stringField(v cue.Value, name, field string) (string, bool, error) {
	f, ok := lookup(v, name)
	if !ok {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, &CompileError{Field: field, Message: "must be a string", Pos: f.Pos()}
	}
	return s, true, nil
}

func intField(v cue.Value, name, field string) (int, error) {
	f, ok := lookup(v, name)
	if !ok {
		return 0, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, &CompileError{Field: field, Message: "must be an integer", Pos: f.Pos()}
	}
	return int(n), nil
}

// stringList accepts a string or a list of strings.
func stringList(v cue.Value, field string) ([]string, error) {
	if s, err := v.String(); err == nil {
		return []string{s}, nil
	}
	if v.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{Field: field, Message: "must be a string or a list of strings", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

func compileCollection(name string, v cue.Value) (*CollectionDef, error) {
	field := "collection." + name
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	def := &CollectionDef{Name: name, Storage: StorageMemory, Pos: v.Pos()}

	if kv, ok := lookup(v, "key"); ok {
		key, err := stringList(kv, field+".key")
		if err != nil {
			return nil, err
		}
		def.Key = key
	}

	storage, ok, err := stringField(v, "storage", field+".storage")
	if err != nil {
		return nil, err
	}
	if ok {
		def.Storage = Storage(storage)
	}

	if def.Bucket, _, err = stringField(v, "bucket", field+".bucket"); err != nil {
		return nil, err
	}

	autoIndex, ok, err := stringField(v, "autoIndex", field+".autoIndex")
	if err != nil {
		return nil, err
	}
	if ok {
		def.AutoIndex = collection.AutoIndexMode(autoIndex)
	}

	if iv, ok := lookup(v, "indexes"); ok {
		paths, err := stringList(iv, field+".indexes")
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			def.Indexes = append(def.Indexes, strings.Split(p, "."))
		}
	}

	if wv, ok := lookup(v, "where"); ok {
		def.Where, err = compileExpr(wv, field+".where")
		if err != nil {
			return nil, err
		}
	}

	gc, ok, err := stringField(v, "gcTime", field+".gcTime")
	if err != nil {
		return nil, err
	}
	if ok {
		if gc == "off" {
			def.GCTime = -1
		} else if def.GCTime, err = time.ParseDuration(gc); err != nil {
			gv, _ := lookup(v, "gcTime")
			return nil, &CompileError{Field: field + ".gcTime", Message: err.Error(), Pos: gv.Pos()}
		}
	}

	if rv, ok := lookup(v, "rows"); ok {
		iter, err := rv.List()
		if err != nil {
			return nil, &CompileError{Field: field + ".rows", Message: "must be a list of structs", Pos: rv.Pos()}
		}
		for i := 0; iter.Next(); i++ {
			row, err := valueToIR(iter.Value(), fmt.Sprintf("%s.rows[%d]", field, i))
			if err != nil {
				return nil, err
			}
			obj, ok := row.(ir.IRObject)
			if !ok {
				return nil, &CompileError{Field: fmt.Sprintf("%s.rows[%d]", field, i), Message: "must be a struct", Pos: iter.Value().Pos()}
			}
			def.Rows = append(def.Rows, obj)
		}
	}
	return def, nil
}

func compileQuery(name string, v cue.Value) (*QueryDef, error) {
	field := "query." + name
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	def := &QueryDef{Name: name, Pos: v.Pos()}

	fv, ok := lookup(v, "from")
	if !ok {
		return nil, &CompileError{Field: field + ".from", Message: "from is required", Pos: v.Pos()}
	}
	from, err := compileSource(fv, field+".from")
	if err != nil {
		return nil, err
	}
	def.From = from

	if jv, ok := lookup(v, "join"); ok {
		iter, err := jv.List()
		if err != nil {
			return nil, &CompileError{Field: field + ".join", Message: "must be a list", Pos: jv.Pos()}
		}
		for i := 0; iter.Next(); i++ {
			j, err := compileJoin(iter.Value(), fmt.Sprintf("%s.join[%d]", field, i))
			if err != nil {
				return nil, err
			}
			def.Joins = append(def.Joins, j)
		}
	}

	if wv, ok := lookup(v, "where"); ok {
		if def.Where, err = compileExpr(wv, field+".where"); err != nil {
			return nil, err
		}
	}
	if gv, ok := lookup(v, "groupBy"); ok {
		if def.GroupBy, err = compileExprList(gv, field+".groupBy"); err != nil {
			return nil, err
		}
	}
	if hv, ok := lookup(v, "having"); ok {
		if def.Having, err = compileExpr(hv, field+".having"); err != nil {
			return nil, err
		}
	}

	if sv, ok := lookup(v, "select"); ok {
		err := eachField(sv, field+".select", func(name string, ev cue.Value) error {
			e, err := compileExpr(ev, field+".select."+name)
			if err != nil {
				return err
			}
			def.Select = append(def.Select, FieldDef{Name: name, Expr: e})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if ov, ok := lookup(v, "orderBy"); ok {
		if def.OrderBy, err = compileOrderBy(ov, field+".orderBy"); err != nil {
			return nil, err
		}
	}

	if def.Limit, err = intField(v, "limit", field+".limit"); err != nil {
		return nil, err
	}
	if def.Offset, err = intField(v, "offset", field+".offset"); err != nil {
		return nil, err
	}
	if fo, ok := lookup(v, "findOne"); ok {
		if def.FindOne, err = fo.Bool(); err != nil {
			return nil, &CompileError{Field: field + ".findOne", Message: "must be a bool", Pos: fo.Pos()}
		}
	}
	return def, nil
}

// compileSource accepts "name", which reads name under its own alias, or
// {alias, source}.
func compileSource(v cue.Value, field string) (SourceDef, error) {
	if s, err := v.String(); err == nil {
		return SourceDef{Alias: s, Source: s, Pos: v.Pos()}, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return SourceDef{}, &CompileError{Field: field, Message: "must be a source name or {alias, source}", Pos: v.Pos()}
	}
	src, ok, err := stringField(v, "source", field+".source")
	if err != nil {
		return SourceDef{}, err
	}
	if !ok {
		return SourceDef{}, &CompileError{Field: field + ".source", Message: "source is required", Pos: v.Pos()}
	}
	alias, ok, err := stringField(v, "alias", field+".alias")
	if err != nil {
		return SourceDef{}, err
	}
	if !ok {
		alias = src
	}
	return SourceDef{Alias: alias, Source: src, Pos: v.Pos()}, nil
}

func compileJoin(v cue.Value, field string) (JoinDef, error) {
	src, err := compileSource(v, field)
	if err != nil {
		return JoinDef{}, err
	}
	j := JoinDef{SourceDef: src, Kind: query.InnerJoin}
	kind, ok, err := stringField(v, "kind", field+".kind")
	if err != nil {
		return JoinDef{}, err
	}
	if ok {
		j.Kind = query.JoinKind(kind)
	}
	on, ok := lookup(v, "on")
	if !ok {
		return JoinDef{}, &CompileError{Field: field + ".on", Message: "join condition is required", Pos: v.Pos()}
	}
	if j.On, err = compileExpr(on, field+".on"); err != nil {
		return JoinDef{}, err
	}
	return j, nil
}

func compileExprList(v cue.Value, field string) ([]queryir.Expr, error) {
	if v.IncompleteKind() != cue.ListKind {
		e, err := compileExpr(v, field)
		if err != nil {
			return nil, err
		}
		return []queryir.Expr{e}, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []queryir.Expr
	for i := 0; iter.Next(); i++ {
		e, err := compileExpr(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// compileOrderBy accepts a list whose elements are expressions (ascending)
// or {expr, dir}.
func compileOrderBy(v cue.Value, field string) ([]OrderDef, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list", Pos: v.Pos()}
	}
	var out []OrderDef
	for i := 0; iter.Next(); i++ {
		ev := iter.Value()
		elem := fmt.Sprintf("%s[%d]", field, i)
		term := OrderDef{Direction: query.Asc}
		if inner, ok := lookup(ev, "expr"); ok && ev.IncompleteKind() == cue.StructKind {
			if term.Expr, err = compileExpr(inner, elem+".expr"); err != nil {
				return nil, err
			}
			dir, ok, err := stringField(ev, "dir", elem+".dir")
			if err != nil {
				return nil, err
			}
			if ok {
				term.Direction = query.Direction(dir)
			}
		} else if term.Expr, err = compileExpr(ev, elem); err != nil {
			return nil, err
		}
		out = append(out, term)
	}
	return out, nil
}
