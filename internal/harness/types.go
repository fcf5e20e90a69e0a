package harness

import (
	"github.com/roach88/livedb/internal/ir"
)

// Trace event types.
const (
	EventStep   = "step"
	EventResult = "result"
	EventChange = "change"
)

// TraceEvent is one entry of a scenario trace: a flow step, the initial
// result of a query, or a change the query emitted.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Op and Target are set for steps.
	Op     string `json:"op,omitempty"`
	Target string `json:"target,omitempty"`

	// Query is set for results and changes.
	Query string `json:"query,omitempty"`

	// Change is the change kind: insert, update or delete.
	Change string `json:"change,omitempty"`

	Key ir.IRValue `json:"key,omitempty"`

	// Value holds the step arguments, the result rows, or the changed row.
	Value ir.IRValue `json:"value,omitempty"`
}

// State is the final content of the queries and collections.
type State struct {
	Queries     map[string][]ir.IRObject `json:"queries"`
	Collections map[string][]ir.IRObject `json:"collections"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace records steps, initial results and changes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	State State `json:"state"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State: State{
			Queries:     make(map[string][]ir.IRObject),
			Collections: make(map[string][]ir.IRObject),
		},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Changes returns the change events of query, optionally of one kind.
func (r *Result) Changes(query, kind string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventChange && ev.Query == query && (kind == "" || ev.Change == kind) {
			out = append(out, ev)
		}
	}
	return out
}

// canonical converts the trace and state for canonical JSON.
func (r *Result) canonical(name string) ir.IRObject {
	trace := make(ir.IRArray, len(r.Trace))
	for i, ev := range r.Trace {
		obj := ir.IRObject{
			"seq":  ir.IRInt(ev.Seq),
			"type": ir.IRString(ev.Type),
		}
		for k, v := range map[string]string{"op": ev.Op, "target": ev.Target, "query": ev.Query, "change": ev.Change} {
			if v != "" {
				obj[k] = ir.IRString(v)
			}
		}
		if ev.Key != nil {
			obj["key"] = ev.Key
		}
		if ev.Value != nil {
			obj["value"] = ev.Value
		}
		trace[i] = obj
	}

	return ir.IRObject{
		"scenario_name": ir.IRString(name),
		"trace":         trace,
		"state": ir.IRObject{
			"queries":     rowsByName(r.State.Queries),
			"collections": rowsByName(r.State.Collections),
		},
	}
}

func rowsByName(m map[string][]ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(m))
	for name, rows := range m {
		out[name] = rowArray(rows)
	}
	return out
}

func rowArray(rows []ir.IRObject) ir.IRArray {
	arr := make(ir.IRArray, len(rows))
	for i, row := range rows {
		arr[i] = row
	}
	return arr
}
