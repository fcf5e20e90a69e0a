package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
	"github.com/roach88/livedb/internal/querysql"
)

// Row is a stored row with its key.
type Row struct {
	Key   ir.Key
	Value ir.IRObject
}

// Rows returns the rows of a collection matching where, in load order.
// A nil where returns every row. Predicates without a SQL form are applied
// in memory.
func (s *Store) Rows(ctx context.Context, collection string, where queryir.Expr) ([]Row, error) {
	f, err := s.newFilter(where)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, collection, f)
}

// filter is a predicate compiled for loading: a SQL clause, and the same
// predicate in memory when the clause cannot express it.
type filter struct {
	clause string
	params []any
	match  queryir.Predicate
	exact  bool
}

func (s *Store) newFilter(where queryir.Expr) (*filter, error) {
	match, err := queryir.CompileFilter(where)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	clause, params, err := s.where.Where(where)
	switch {
	case err == nil:
		return &filter{clause: clause, params: params, match: match, exact: true}, nil
	case querysql.IsUnsupported(err):
		s.logger.Debug("filtering in memory", "where", queryir.Format(where), "reason", err)
		return &filter{clause: "1 = 1", match: match}, nil
	default:
		return nil, fmt.Errorf("filter: %w", err)
	}
}

func (s *Store) load(ctx context.Context, collection string, f *filter) ([]Row, error) {
	args := append([]any{collection}, f.params...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, row FROM rows
		WHERE collection = ? AND `+f.clause+`
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var rawKey, data string
		if err := rows.Scan(&rawKey, &data); err != nil {
			return nil, fmt.Errorf("load %s: scan: %w", collection, err)
		}
		key, err := decodeKey(rawKey)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", collection, err)
		}
		var value ir.IRObject
		if err := value.UnmarshalJSON([]byte(data)); err != nil {
			return nil, fmt.Errorf("load %s: row %s: %w", collection, rawKey, err)
		}
		if !f.exact && !f.match(value) {
			continue
		}
		out = append(out, Row{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	return out, nil
}

// decodeKey reverses ir.KeyString.
func decodeKey(s string) (ir.Key, error) {
	if strings.HasPrefix(s, `"`) {
		str, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", s, err)
		}
		return ir.IRString(str), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid key %s: %w", s, err)
	}
	return ir.IRInt(n), nil
}
