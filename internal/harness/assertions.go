package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/livedb/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluateAssertion checks one assertion against the final result.
func evaluateAssertion(r *Result, env *Env, a Assertion) error {
	switch a.Type {
	case AssertQueryRows:
		return assertQueryRows(r, a)
	case AssertQueryContains:
		return assertQueryContains(r, a)
	case AssertQueryCount:
		return assertQueryCount(r, a)
	case AssertCollectionRow:
		return assertCollectionRow(env, a)
	case AssertChangeCount:
		return assertChangeCount(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func queryRows(r *Result, name string) ([]ir.IRObject, error) {
	rows, ok := r.State.Queries[name]
	if !ok {
		return nil, fmt.Errorf("query %q is not running", name)
	}
	return rows, nil
}

func assertQueryRows(r *Result, a Assertion) error {
	got, err := queryRows(r, a.Query)
	if err != nil {
		return err
	}
	want, err := toRows(a.Rows)
	if err != nil {
		return err
	}
	if err := equalRows(got, want); err != nil {
		return &AssertionError{Type: a.Type, Expected: canonical(rowArray(want)), Actual: canonical(rowArray(got))}
	}
	return nil
}

func assertQueryContains(r *Result, a Assertion) error {
	rows, err := queryRows(r, a.Query)
	if err != nil {
		return err
	}
	where, err := ir.ObjectFromMap(a.Where)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if matchSubset(row, where) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("a row of %s matching %s", a.Query, canonical(where)),
		Actual:   canonical(rowArray(rows)),
	}
}

func assertQueryCount(r *Result, a Assertion) error {
	rows, err := queryRows(r, a.Query)
	if err != nil {
		return err
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Query),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

func assertCollectionRow(env *Env, a Assertion) error {
	c, ok := env.Collection(a.Collection)
	if !ok {
		return fmt.Errorf("unknown collection %q", a.Collection)
	}
	key, err := ir.FromAny(a.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	row, found := c.Get(key)

	if a.Absent {
		if found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no row %s in %s", ir.KeyString(key), a.Collection),
				Actual:   canonical(row),
			}
		}
		return nil
	}

	expect, err := ir.ObjectFromMap(a.Expect)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("row %s in %s matching %s", ir.KeyString(key), a.Collection, canonical(expect)),
			Actual:   "no row",
		}
	}
	if !matchSubset(row, expect) {
		return &AssertionError{Type: a.Type, Expected: canonical(expect), Actual: canonical(row)}
	}
	return nil
}

func assertChangeCount(r *Result, a Assertion) error {
	n := len(r.Changes(a.Query, a.Change))
	if n != a.Count {
		kind := "changes"
		if a.Change != "" {
			kind = a.Change + " changes"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s from %s", a.Count, kind, a.Query),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// equalRows compares two results row by row, in order.
func equalRows(got, want []ir.IRObject) error {
	if len(got) != len(want) {
		return fmt.Errorf("got %d rows, want %d: %s", len(got), len(want), canonical(rowArray(got)))
	}
	for i := range want {
		if !ir.Equal(got[i], want[i]) {
			return fmt.Errorf("row %d: got %s, want %s", i, canonical(got[i]), canonical(want[i]))
		}
	}
	return nil
}

// matchSubset reports whether every field of want has an equal value in
// row. Dotted names address nested fields.
func matchSubset(row, want ir.IRObject) bool {
	for name, v := range want {
		got, ok := ir.GetPath(row, strings.Split(name, "."))
		if !ok {
			got = ir.Null
		}
		if !ir.Equal(got, v) {
			return false
		}
	}
	return true
}

func canonical(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
