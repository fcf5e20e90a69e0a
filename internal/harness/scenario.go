package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a live query scenario: collections and queries from CUE
// definitions, steps that write to the collections, and assertions on the
// query results.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions lists CUE definition files, relative to the scenario file.
	Definitions []string `yaml:"definitions,omitempty"`

	// CUE holds inline definitions, compiled after Definitions.
	CUE string `yaml:"cue,omitempty"`

	// Queries names the live queries to run. Empty runs every query.
	Queries []string `yaml:"queries,omitempty"`

	// Setup steps run before the queries start and are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps run against the live queries.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final results and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step writes to one collection. Exactly one of the operation fields is set.
type Step struct {
	// Optimistic writes through the collection, persisted by its backend.
	Insert string `yaml:"insert,omitempty"`
	Update string `yaml:"update,omitempty"`
	Delete string `yaml:"delete,omitempty"`

	// Direct backend writes, delivered to the collection through sync.
	Put    string `yaml:"put,omitempty"`
	Remove string `yaml:"remove,omitempty"`

	// Transaction applies its insert, update and delete steps in one
	// explicit transaction.
	Transaction []Step `yaml:"transaction,omitempty"`

	Rows []map[string]any `yaml:"rows,omitempty"`
	Key  any              `yaml:"key,omitempty"`
	Keys []any            `yaml:"keys,omitempty"`
	Set  map[string]any   `yaml:"set,omitempty"`

	// Expect checks a query result once the step is persisted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpPut         = "put"
	OpRemove      = "remove"
	OpTransaction = "transaction"
)

// Op returns the step operation and its target collection.
func (s *Step) Op() (op, target string) {
	switch {
	case s.Insert != "":
		return OpInsert, s.Insert
	case s.Update != "":
		return OpUpdate, s.Update
	case s.Delete != "":
		return OpDelete, s.Delete
	case s.Put != "":
		return OpPut, s.Put
	case s.Remove != "":
		return OpRemove, s.Remove
	case len(s.Transaction) > 0:
		return OpTransaction, ""
	}
	return "", ""
}

// ExpectClause specifies a query result after a step.
type ExpectClause struct {
	// Query names the live query.
	Query string `yaml:"query"`

	// Rows is the exact result, in order. Nil skips the check.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Count is the expected number of rows. Nil skips the check.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates the final results or the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "query_rows": the result of Query equals Rows, in order
	// - "query_contains": the result of Query has a row matching Where
	// - "query_count": the result of Query has Count rows
	// - "collection_row": the row of Collection at Key matches Expect, or is
	//   absent when Absent is set
	// - "change_count": Query emitted Count changes, of kind Change if set
	Type string `yaml:"type"`

	Query      string `yaml:"query,omitempty"`
	Collection string `yaml:"collection,omitempty"`

	// Rows is the exact expected result (query_rows).
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Where is a subset match against result rows (query_contains).
	Where map[string]any `yaml:"where,omitempty"`

	// Key and Expect select and subset-match a collection row.
	Key    any            `yaml:"key,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	Count  int    `yaml:"count,omitempty"`
	Change string `yaml:"change,omitempty"`
}

// Assertion type constants.
const (
	AssertQueryRows     = "query_rows"
	AssertQueryContains = "query_contains"
	AssertQueryCount    = "query_count"
	AssertCollectionRow = "collection_row"
	AssertChangeCount   = "change_count"
)

// LoadScenario reads and parses a scenario YAML file. Definition paths are
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.Definitions {
		if !filepath.IsAbs(p) {
			scenario.Definitions[i] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 && s.CUE == "" {
		return fmt.Errorf("definitions or cue is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.Definitions {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("definitions file not found: %s", p)
		}
	}

	for i := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &s.Setup[i], true); err != nil {
			return err
		}
	}
	for i := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &s.Flow[i], true); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(field string, s *Step, top bool) error {
	n := 0
	for _, set := range []bool{s.Insert != "", s.Update != "", s.Delete != "", s.Put != "", s.Remove != "", len(s.Transaction) > 0} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%s: exactly one of insert, update, delete, put, remove or transaction is required", field)
	}

	op, _ := s.Op()
	switch op {
	case OpInsert, OpPut:
		if len(s.Rows) == 0 {
			return fmt.Errorf("%s: rows is required for %s", field, op)
		}
	case OpUpdate:
		if s.Key == nil || len(s.Set) == 0 {
			return fmt.Errorf("%s: key and set are required for update", field)
		}
	case OpDelete, OpRemove:
		if len(s.Keys) == 0 {
			return fmt.Errorf("%s: keys is required for %s", field, op)
		}
	case OpTransaction:
		if !top {
			return fmt.Errorf("%s: transactions cannot be nested", field)
		}
		for i := range s.Transaction {
			inner := &s.Transaction[i]
			if err := validateStep(fmt.Sprintf("%s.transaction[%d]", field, i), inner, false); err != nil {
				return err
			}
			if op, _ := inner.Op(); op == OpPut || op == OpRemove {
				return fmt.Errorf("%s.transaction[%d]: %s is not a transactional write", field, i, op)
			}
			if inner.Expect != nil {
				return fmt.Errorf("%s.transaction[%d]: expect belongs on the transaction step", field, i)
			}
		}
	}

	if s.Expect != nil && s.Expect.Query == "" {
		return fmt.Errorf("%s.expect: query is required", field)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertQueryRows, AssertQueryCount:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertQueryContains:
		if a.Query == "" || len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: query and where are required for query_contains", index)
		}
	case AssertCollectionRow:
		if a.Collection == "" || a.Key == nil {
			return fmt.Errorf("assertions[%d]: collection and key are required for collection_row", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for collection_row", index)
		}
	case AssertChangeCount:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for change_count", index)
		}
		switch a.Change {
		case "", "insert", "update", "delete":
		default:
			return fmt.Errorf("assertions[%d]: unknown change kind %q", index, a.Change)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
