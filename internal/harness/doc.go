// Package harness runs YAML scenarios against live queries.
//
// A scenario declares collections and queries in CUE, writes to the
// collections step by step, and checks what the live queries show.
// Collections run on their declared storage: sqlite and bolt collections
// persist through their backend, memory collections are local-only.
//
// # Scenario Format
//
//	name: open_todos
//	description: "Open todos follow inserts and updates"
//	definitions:
//	  - todos.cue
//	queries: [open]
//	flow:
//	  - insert: todos
//	    rows: [{id: 4, title: "write docs", done: false}]
//	    expect:
//	      query: open
//	      count: 3
//	  - update: todos
//	    key: 4
//	    set: {done: true}
//	  - put: todos
//	    rows: [{id: 5, title: "from elsewhere", done: false}]
//	  - transaction:
//	      - delete: todos
//	        keys: [1]
//	      - insert: users
//	        rows: [{name: "ana"}]
//	assertions:
//	  - type: query_count
//	    query: open
//	    count: 3
//
// insert, update and delete go through the collection, optimistic first and
// then persisted. put and remove write the sqlite backend directly, the way
// another process would, and reach the collection through sync. Each step
// returns once persisted, so the trace is deterministic.
//
// # Assertion Types
//
//   - query_rows: the final result equals rows, in order
//   - query_contains: the final result has a row matching where
//   - query_count: the final result has count rows
//   - collection_row: the collection row at key matches expect, or is absent
//   - change_count: the query emitted count changes, optionally of one kind
//
// # Golden Files
//
// RunWithGolden compares the trace and final state, as canonical JSON,
// against testdata/golden/{name}.golden. Regenerate with -update.
package harness
