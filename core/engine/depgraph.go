package engine

import (
	"sort"

	"github.com/adalundhe/strata/core/datalog"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// =============================================================================
// DependencyGraph - Predicate dependency graph over rule heads and bodies
// =============================================================================

// DependencyGraph is the predicate-level view of a rule set. Every rule adds
// an edge from its head signature to the signature of each ordinary body
// literal; edges contributed by a negated literal are also recorded as
// negative. Built-in literals have no rules and contribute no edges.
//
// Nodes are signatures. Predicates that only occur in bodies are pure EDB
// predicates and end up as sinks.
type DependencyGraph struct {
	g        *simple.DirectedGraph
	ids      map[string]int64
	names    []string
	negative map[edge]struct{}
	rules    []*datalog.Rule
}

type edge struct {
	from, to int64
}

// NewDependencyGraph builds the graph for rules. The rule slice is retained
// and must not be modified afterwards.
func NewDependencyGraph(rules []*datalog.Rule) *DependencyGraph {
	d := &DependencyGraph{
		g:        simple.NewDirectedGraph(),
		ids:      make(map[string]int64),
		negative: make(map[edge]struct{}),
		rules:    rules,
	}
	for _, r := range rules {
		head := d.node(r.Signature())
		for _, lit := range r.Body() {
			if lit.IsBuiltin() {
				continue
			}
			body := d.node(lit.Signature())
			if lit.Negated() {
				d.negative[edge{head.ID(), body.ID()}] = struct{}{}
			}
			// simple.DirectedGraph rejects self edges; direct recursion is
			// recorded in negative when it matters and needs no edge otherwise.
			if head.ID() != body.ID() {
				d.g.SetEdge(d.g.NewEdge(head, body))
			}
		}
	}
	return d
}

func (d *DependencyGraph) node(signature string) graph.Node {
	if id, ok := d.ids[signature]; ok {
		return d.g.Node(id)
	}
	n := simple.Node(len(d.names))
	d.g.AddNode(n)
	d.ids[signature] = n.ID()
	d.names = append(d.names, signature)
	return n
}

// Closure returns the signatures reachable from any of the given signatures,
// the signatures themselves included, in breadth-first order. Signatures that
// are unknown to the graph are returned as-is.
func (d *DependencyGraph) Closure(signatures []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(sig string) {
		if _, ok := seen[sig]; ok {
			return
		}
		seen[sig] = struct{}{}
		out = append(out, sig)
	}

	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { add(d.names[n.ID()]) },
	}
	for _, sig := range signatures {
		id, ok := d.ids[sig]
		if !ok {
			add(sig)
			continue
		}
		bf.Walk(d.g, d.g.Node(id), nil)
	}
	return out
}

// Relevant returns the rules whose head lies in the closure of signatures,
// in their original order, together with the closure itself.
func (d *DependencyGraph) Relevant(signatures []string) ([]*datalog.Rule, []string) {
	closure := d.Closure(signatures)
	inClosure := make(map[string]struct{}, len(closure))
	for _, sig := range closure {
		inClosure[sig] = struct{}{}
	}
	var rules []*datalog.Rule
	for _, r := range d.rules {
		if _, ok := inClosure[r.Signature()]; ok {
			rules = append(rules, r)
		}
	}
	return rules, closure
}

// components returns the strongly connected components of the graph and, for
// each node ID, the index of its component.
func (d *DependencyGraph) components() ([][]graph.Node, []int) {
	sccs := topo.TarjanSCC(d.g)
	comp := make([]int, len(d.names))
	for i, scc := range sccs {
		for _, n := range scc {
			comp[n.ID()] = i
		}
	}
	return sccs, comp
}

func (d *DependencyGraph) componentNames(scc []graph.Node) []string {
	names := make([]string, len(scc))
	for i, n := range scc {
		names[i] = d.names[n.ID()]
	}
	sort.Strings(names)
	return names
}

func (d *DependencyGraph) isNegative(from, to int64) bool {
	_, ok := d.negative[edge{from, to}]
	return ok
}
