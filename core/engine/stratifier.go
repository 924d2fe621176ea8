package engine

import (
	"sort"

	"github.com/adalundhe/strata/core/datalog"
)

// =============================================================================
// Stratifier - Orders rules so negation only sees completed predicates
// =============================================================================

// Stratifier partitions rules into strata such that every predicate used
// under negation is fully computed in an earlier stratum.
//
// The stratum of a strongly connected component of the dependency graph is
// the maximum, over its outgoing edges, of the target component's stratum,
// plus one when the edge is negative. Positive recursion stays inside one
// component and costs nothing. A negative edge inside a component is a cycle
// through negation and makes the program unstratifiable.
type Stratifier struct {
	graph  *DependencyGraph
	strata [][]*datalog.Rule
	levels map[string]int
}

// NewStratifier creates a stratifier for rules.
func NewStratifier(rules []*datalog.Rule) *Stratifier {
	return &Stratifier{graph: NewDependencyGraph(rules), levels: make(map[string]int)}
}

// Stratify computes the strata. It returns a *datalog.StratificationError
// when a negative edge closes a cycle.
func (s *Stratifier) Stratify() error {
	sccs, comp := s.graph.components()

	// Scan rules rather than the edge map so the reported component does not
	// depend on map iteration order.
	for _, r := range s.graph.rules {
		headID := s.graph.ids[r.Signature()]
		for _, lit := range r.Body() {
			if !lit.Negated() || lit.IsBuiltin() {
				continue
			}
			bodyID := s.graph.ids[lit.Signature()]
			if comp[headID] == comp[bodyID] {
				return &datalog.StratificationError{Cycle: s.graph.componentNames(sccs[comp[headID]])}
			}
		}
	}

	level := make([]int, len(sccs))
	done := make([]bool, len(sccs))
	var visit func(c int) int
	visit = func(c int) int {
		if done[c] {
			return level[c]
		}
		done[c] = true
		lv := 0
		for _, n := range sccs[c] {
			to := s.graph.g.From(n.ID())
			for to.Next() {
				m := to.Node()
				target := comp[m.ID()]
				if target == c {
					continue
				}
				l := visit(target)
				if s.graph.isNegative(n.ID(), m.ID()) {
					l++
				}
				if l > lv {
					lv = l
				}
			}
		}
		level[c] = lv
		return lv
	}

	buckets := make(map[int][]*datalog.Rule)
	for id, sig := range s.graph.names {
		s.levels[sig] = visit(comp[id])
	}
	for _, r := range s.graph.rules {
		lv := s.levels[r.Signature()]
		buckets[lv] = append(buckets[lv], r)
	}

	order := make([]int, 0, len(buckets))
	for lv := range buckets {
		order = append(order, lv)
	}
	sort.Ints(order)
	s.strata = make([][]*datalog.Rule, len(order))
	for i, lv := range order {
		s.strata[i] = buckets[lv]
	}
	return nil
}

// Strata returns the non-empty strata in evaluation order. Rules keep their
// input order within a stratum.
func (s *Stratifier) Strata() [][]*datalog.Rule {
	return s.strata
}

// stratumOf returns the stratum level of a signature. Predicates without
// rules and unknown signatures are at level 0.
func (s *Stratifier) stratumOf(signature string) int {
	return s.levels[signature]
}

// MaxStratum returns the index of the last non-empty stratum, or -1 when
// there are no rules.
func (s *Stratifier) MaxStratum() int {
	return len(s.strata) - 1
}
