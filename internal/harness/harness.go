package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/compiler"
	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/live"
	"github.com/roach88/livedb/internal/txn"
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	dir    string
}

// WithLogger sets the logger. Runs are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithDir keeps the backends in dir instead of memory and a temporary
// directory.
func WithDir(dir string) Option {
	return func(c *runConfig) {
		c.dir = dir
	}
}

// Harness runs one scenario against fresh collections and live queries.
type Harness struct {
	env      *Env
	registry *live.Registry
	clock    *engine.Clock
	logger   *slog.Logger

	queries  map[string]*live.Query
	releases []func()
	subs     []*collection.Subscription

	mu     sync.Mutex
	result *Result
}

// Run executes a scenario and returns the result.
//
// Every run opens fresh backends and a fresh transaction manager, and ids
// come from sequences, so equal scenarios produce equal traces.
//
// Execution flow:
// 1. Compile and validate the definitions
// 2. Open and seed the collections, then run setup steps
// 3. Start the live queries and record their initial results
// 4. Run flow steps, recording changes and checking expect clauses
// 5. Evaluate assertions and record the final state
//
// A returned error means the scenario could not run. Failed checks are
// reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	defs, err := loadDefinitions(scenario)
	if err != nil {
		return nil, err
	}

	env, err := OpenEnv(ctx, defs, EnvOptions{Dir: cfg.dir, Logger: cfg.logger})
	if err != nil {
		return nil, fmt.Errorf("open collections: %w", err)
	}

	h := &Harness{
		env:      env,
		registry: live.NewRegistry(live.WithLogger(cfg.logger)),
		clock:    engine.NewClock(),
		logger:   cfg.logger.With("scenario", scenario.Name),
		queries:  make(map[string]*live.Query),
		result:   NewResult(),
	}
	defer h.close()

	for i := range scenario.Setup {
		if err := h.runStep(ctx, &scenario.Setup[i], false); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	if err := h.startQueries(ctx, scenario.Queries); err != nil {
		return nil, err
	}

	for i := range scenario.Flow {
		step := &scenario.Flow[i]
		if err := h.runStep(ctx, step, true); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Expect != nil {
			if err := h.checkExpect(step.Expect); err != nil {
				h.addError(fmt.Sprintf("flow[%d]: %v", i, err))
			}
		}
	}

	h.recordState()
	result := h.snapshot()
	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(result, env, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

// loadDefinitions compiles the definition files and the inline CUE and
// validates the result.
func loadDefinitions(s *Scenario) (*compiler.Definitions, error) {
	sources := s.Definitions
	var defs *compiler.Definitions
	var err error
	switch {
	case s.CUE != "" && len(sources) > 0:
		defs, err = compiler.CompileFiles(sources...)
		if err == nil {
			var inline *compiler.Definitions
			inline, err = compiler.CompileString(s.Name+".cue", s.CUE)
			if err == nil {
				defs.Collections = append(defs.Collections, inline.Collections...)
				defs.Queries = append(defs.Queries, inline.Queries...)
			}
		}
	case s.CUE != "":
		defs, err = compiler.CompileString(s.Name+".cue", s.CUE)
	default:
		defs, err = compiler.CompileFiles(sources...)
	}
	if err != nil {
		return nil, fmt.Errorf("compile definitions: %w", err)
	}

	if verrs := compiler.Validate(defs); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return nil, fmt.Errorf("invalid definitions: %w", errors.Join(errs...))
	}
	return defs, nil
}

// startQueries starts the named queries, or all of them, and records each
// initial result.
func (h *Harness) startQueries(ctx context.Context, names []string) error {
	built, err := h.env.Defs.BuildAll(h.env.Sources)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = h.env.Defs.QueryNames()
	}

	for _, name := range names {
		qc, ok := built[name]
		if !ok {
			return fmt.Errorf("unknown query %q", name)
		}
		q, release, err := h.registry.Acquire(ctx, qc)
		if err != nil {
			return fmt.Errorf("query %s: %w", name, err)
		}
		h.releases = append(h.releases, release)
		if err := q.WaitReady(ctx); err != nil {
			return fmt.Errorf("query %s: %w", name, err)
		}
		h.queries[name] = q
		h.trace(TraceEvent{Type: EventResult, Query: name, Value: rowArray(q.Rows())})

		sub, err := q.Collection().SubscribeChanges(h.recordChanges(name), collection.SubscribeOptions{})
		if err != nil {
			return fmt.Errorf("query %s: %w", name, err)
		}
		h.subs = append(h.subs, sub)
		h.logger.Debug("query started", "query", name, "rows", len(q.Rows()))
	}
	return nil
}

// recordChanges traces a change batch of query, ordered by key.
func (h *Harness) recordChanges(query string) collection.Listener {
	return func(changes []collection.ChangeMessage) {
		sorted := slices.Clone(changes)
		slices.SortStableFunc(sorted, func(a, b collection.ChangeMessage) int {
			return ir.Compare(a.Key, b.Key)
		})
		for _, c := range sorted {
			ev := TraceEvent{Type: EventChange, Query: query, Change: string(c.Type), Key: c.Key}
			if c.Type != collection.ChangeDelete {
				ev.Value = c.Value
			}
			h.trace(ev)
		}
	}
}

func (h *Harness) trace(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = h.clock.Next()
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) addError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.AddError(msg)
}

// runStep applies one step and returns once it is persisted. Flow steps
// are traced before they run, so the changes they cause follow them.
func (h *Harness) runStep(ctx context.Context, step *Step, traced bool) error {
	op, target := step.Op()
	if traced {
		args, err := stepArgs(step)
		if err != nil {
			return err
		}
		h.trace(TraceEvent{Type: EventStep, Op: op, Target: target, Value: args})
	}

	switch op {
	case OpPut:
		rows, err := toRows(step.Rows)
		if err != nil {
			return err
		}
		return h.env.Put(ctx, target, rows...)
	case OpRemove:
		keys, err := toKeys(step.Keys)
		if err != nil {
			return err
		}
		return h.env.Remove(ctx, target, keys...)
	case OpTransaction:
		return h.runTransaction(ctx, step.Transaction)
	}

	tx, err := h.write(ctx, step)
	if err != nil {
		return err
	}
	return tx.Wait(ctx)
}

// runTransaction applies steps in one explicit transaction, persisted by
// the backend of every collection it touches.
func (h *Harness) runTransaction(ctx context.Context, steps []Step) error {
	tx, err := h.env.Manager.New(h.env.Persist, txn.WithAutoCommit(false))
	if err != nil {
		return err
	}
	err = tx.Mutate(ctx, func(ctx context.Context) error {
		for i := range steps {
			if _, err := h.write(ctx, &steps[i]); err != nil {
				return fmt.Errorf("transaction[%d]: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return tx.Wait(ctx)
}

// write applies an insert, update or delete through the collection.
func (h *Harness) write(ctx context.Context, step *Step) (*txn.Transaction, error) {
	op, target := step.Op()
	c, ok := h.env.Collection(target)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", target)
	}

	switch op {
	case OpInsert:
		rows, err := toRows(step.Rows)
		if err != nil {
			return nil, err
		}
		return c.Insert(ctx, rows...)
	case OpUpdate:
		key, err := ir.FromAny(step.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		set, err := ir.ObjectFromMap(step.Set)
		if err != nil {
			return nil, fmt.Errorf("set: %w", err)
		}
		return c.Update(ctx, key, func(draft ir.IRObject) {
			applySet(draft, set)
		})
	case OpDelete:
		keys, err := toKeys(step.Keys)
		if err != nil {
			return nil, err
		}
		return c.Delete(ctx, keys...)
	default:
		return nil, fmt.Errorf("%s is not a collection write", op)
	}
}

// applySet writes each field of set into draft. Dotted names set nested
// fields.
func applySet(draft, set ir.IRObject) {
	for _, name := range set.SortedKeys() {
		path := strings.Split(name, ".")
		updated := ir.SetPath(draft, path, set[name])
		draft[path[0]] = updated[path[0]]
	}
}

func (h *Harness) checkExpect(e *ExpectClause) error {
	q, ok := h.queries[e.Query]
	if !ok {
		return fmt.Errorf("expect: query %q is not running", e.Query)
	}
	rows := q.Rows()
	if e.Count != nil && len(rows) != *e.Count {
		return fmt.Errorf("expect %s: got %d rows, want %d", e.Query, len(rows), *e.Count)
	}
	if e.Rows != nil {
		want, err := toRows(e.Rows)
		if err != nil {
			return fmt.Errorf("expect %s: %w", e.Query, err)
		}
		if err := equalRows(rows, want); err != nil {
			return fmt.Errorf("expect %s: %w", e.Query, err)
		}
	}
	return nil
}

func (h *Harness) recordState() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, q := range h.queries {
		h.result.State.Queries[name] = q.Rows()
	}
	for name, c := range h.env.Sources {
		h.result.State.Collections[name] = c.Values()
	}
}

func (h *Harness) snapshot() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := *h.result
	r.Trace = slices.Clone(h.result.Trace)
	r.Errors = slices.Clone(h.result.Errors)
	return &r
}

func (h *Harness) close() {
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
	for _, release := range h.releases {
		release()
	}
	h.registry.Close()
	if err := h.env.Close(); err != nil {
		h.logger.Warn("closing collections", "error", err)
	}
}

// stepArgs renders the step arguments for the trace.
func stepArgs(step *Step) (ir.IRValue, error) {
	args := ir.IRObject{}
	if len(step.Rows) > 0 {
		rows, err := toRows(step.Rows)
		if err != nil {
			return nil, err
		}
		args["rows"] = rowArray(rows)
	}
	if step.Key != nil {
		key, err := ir.FromAny(step.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		args["key"] = key
	}
	if len(step.Keys) > 0 {
		keys, err := toKeys(step.Keys)
		if err != nil {
			return nil, err
		}
		args["keys"] = ir.IRArray(keys)
	}
	if len(step.Set) > 0 {
		set, err := ir.ObjectFromMap(step.Set)
		if err != nil {
			return nil, fmt.Errorf("set: %w", err)
		}
		args["set"] = set
	}
	if len(step.Transaction) > 0 {
		steps := make(ir.IRArray, len(step.Transaction))
		for i := range step.Transaction {
			inner := &step.Transaction[i]
			op, target := inner.Op()
			a, err := stepArgs(inner)
			if err != nil {
				return nil, err
			}
			obj := a.(ir.IRObject)
			obj["op"] = ir.IRString(op)
			obj["target"] = ir.IRString(target)
			steps[i] = obj
		}
		args["steps"] = steps
	}
	return args, nil
}

func toRows(in []map[string]any) ([]ir.IRObject, error) {
	rows := make([]ir.IRObject, len(in))
	for i, m := range in {
		row, err := ir.ObjectFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("rows[%d]: %w", i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

func toKeys(in []any) ([]ir.Key, error) {
	keys := make([]ir.Key, len(in))
	for i, k := range in {
		key, err := ir.FromAny(k)
		if err != nil {
			return nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}
