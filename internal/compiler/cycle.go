package compiler

import (
	"slices"
	"strings"
)

// Cycle is a set of queries that read each other, directly or through
// other queries. Such queries cannot be built.
type Cycle struct {
	Path    []string `json:"path"` // ["a", "b", "a"]
	Message string   `json:"message"`
}

// FindCycles reports every query cycle in defs, ordered by the first query
// of each path. Each cycle is a strongly connected component of the graph of
// queries reading queries; its path is the shortest loop through the
// component's smallest name.
func FindCycles(defs *Definitions) []Cycle {
	reads := readsGraph(defs)

	var cycles []Cycle
	for _, group := range components(reads, defs.QueryNames()) {
		if len(group) == 1 && !slices.Contains(reads[group[0]], group[0]) {
			continue
		}
		cycles = append(cycles, newCycle(shortestLoop(slices.Min(group), group, reads)))
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return cycles
}

func newCycle(path []string) Cycle {
	prefix := "queries read each other: "
	if len(path) == 2 {
		prefix = "query reads itself: "
	}
	return Cycle{Path: path, Message: prefix + strings.Join(path, " → ")}
}

// readsGraph maps each query to the queries among its sources.
func readsGraph(defs *Definitions) map[string][]string {
	reads := make(map[string][]string, len(defs.Queries))
	for i := range defs.Queries {
		q := &defs.Queries[i]
		for _, s := range q.Sources() {
			if _, ok := defs.Query(s.Source); ok {
				reads[q.Name] = append(reads[q.Name], s.Source)
			}
		}
	}
	return reads
}

// components returns the strongly connected components of reads (Tarjan),
// starting from nodes in order.
func components(reads map[string][]string, order []string) [][]string {
	type mark struct{ index, low int }
	var (
		marks  = make(map[string]*mark)
		stack  []string
		onPath = make(map[string]bool)
		out    [][]string
	)

	var visit func(string) *mark
	visit = func(v string) *mark {
		m := &mark{index: len(marks), low: len(marks)}
		marks[v] = m
		stack = append(stack, v)
		onPath[v] = true

		for _, w := range reads[v] {
			if wm, seen := marks[w]; !seen {
				m.low = min(m.low, visit(w).low)
			} else if onPath[w] {
				m.low = min(m.low, wm.index)
			}
		}

		if m.low == m.index {
			i := slices.Index(stack, v)
			group := slices.Clone(stack[i:])
			for _, w := range group {
				onPath[w] = false
			}
			stack = stack[:i]
			out = append(out, group)
		}
		return m
	}

	for _, v := range order {
		if _, seen := marks[v]; !seen {
			visit(v)
		}
	}
	return out
}

// shortestLoop finds the shortest path from start back to itself that stays
// inside group.
func shortestLoop(start string, group []string, reads map[string][]string) []string {
	prev := make(map[string]string, len(group))
	queue := []string{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range reads[v] {
			if !slices.Contains(group, w) {
				continue
			}
			if w == start {
				loop := []string{start}
				for at := v; at != start; at = prev[at] {
					loop = append(loop, at)
				}
				loop = append(loop, start)
				slices.Reverse(loop)
				return loop
			}
			if _, seen := prev[w]; !seen {
				prev[w] = v
				queue = append(queue, w)
			}
		}
	}
	return []string{start, start}
}
