// Package compiler turns CUE definition files into collection and live query
// definitions.
//
// A definition file declares collections under "collection" and queries
// under "query":
//
//	collection: todos: {
//		key:     "id"
//		storage: "sqlite"
//		where:   {eq: ["$archived", false]}
//		indexes: ["owner", "meta.priority"]
//	}
//
//	query: open: {
//		from:    {alias: "t", source: "todos"}
//		join:    [{alias: "u", source: "users", kind: "left", on: {eq: ["$t.owner", "$u.id"]}}]
//		where:   {eq: ["$t.done", false]}
//		select:  {title: "$t.title", owner: "$u.name"}
//		orderBy: [{expr: "$t.priority", dir: "desc"}]
//		limit:   10
//	}
//
// Expressions are written as CUE values:
//
//   - "$a.b" is a field reference; "$$x" is the string literal "$x"
//   - scalars, null and lists are literals
//   - {op: [args...]} or {op: arg} applies an operator or aggregate;
//     {count: []} counts rows
//   - {lit: v} and {ref: "a.b"} are explicit literal and reference forms
//
// Compile reports structural problems as *CompileError with the CUE source
// position. Validate reports every semantic problem it finds as a
// ValidationError. Build binds a query definition to live collections.
package compiler
