package engine

import (
	"fmt"

	"github.com/adalundhe/strata/core/datalog"
)

// =============================================================================
// Goal Matcher
// =============================================================================

// walker is the depth-first goal-at-a-time matcher shared by rule evaluation
// and queries. Goals are consumed in order; a single binding map is extended
// and rolled back while backtracking. emit is called once per full
// satisfaction of the goal list.
type walker struct {
	facts *datalog.FactSet
	goals []*datalog.Expr
	b     *datalog.Bindings
	emit  func(*datalog.Bindings) error
}

func (w *walker) walk(i int) error {
	if i == len(w.goals) {
		return w.emit(w.b)
	}
	goal := w.goals[i]

	switch {
	case goal.IsBuiltin():
		mark := w.b.Mark()
		ok, err := goal.EvalBuiltin(w.b)
		if err != nil {
			w.b.Rollback(mark)
			return err
		}
		if ok != goal.Negated() {
			if err := w.walk(i + 1); err != nil {
				w.b.Rollback(mark)
				return err
			}
		}
		w.b.Rollback(mark)
		return nil

	case goal.Negated():
		// Negation as failure: any matching fact kills this branch.
		pattern := goal.Substitute(w.b)
		mark := w.b.Mark()
		for _, fact := range w.facts.BySignature(pattern.Signature()) {
			hit := fact.GroundUnify(pattern, w.b)
			w.b.Rollback(mark)
			if hit {
				return nil
			}
		}
		return w.walk(i + 1)

	default:
		pattern := goal.Substitute(w.b)
		for _, fact := range w.facts.BySignature(pattern.Signature()) {
			mark := w.b.Mark()
			if fact.GroundUnify(pattern, w.b) {
				if err := w.walk(i + 1); err != nil {
					w.b.Rollback(mark)
					return err
				}
			}
			w.b.Rollback(mark)
		}
		return nil
	}
}

// matchRule derives the heads of rule that are satisfiable against facts and
// not yet present in it, adding them to fresh.
func matchRule(rule *datalog.Rule, facts, fresh *datalog.FactSet) error {
	if len(rule.Body()) == 0 {
		panic(fmt.Sprintf("engine: deriving from rule with empty body: %s", rule.Head()))
	}
	w := &walker{
		facts: facts,
		goals: rule.Body(),
		b:     datalog.NewBindings(),
		emit: func(b *datalog.Bindings) error {
			head := rule.Head().Substitute(b)
			if !head.IsGround() {
				panic(fmt.Sprintf("engine: rule %s derived non-ground head %s", rule, head))
			}
			if !facts.Contains(head) {
				fresh.Add(head)
			}
			return nil
		},
	}
	if err := w.walk(0); err != nil {
		return fmt.Errorf("match rule %s: %w", rule, err)
	}
	return nil
}

// MatchGoals returns every distinct binding that satisfies goals, in
// enumeration order. Goals are matched in the order given; callers that
// accept arbitrary goal lists should pass them through datalog.ReorderGoals.
// An empty goal list is satisfied once by the empty binding.
func MatchGoals(facts *datalog.FactSet, goals []*datalog.Expr) ([]datalog.Binding, error) {
	var results []datalog.Binding
	seen := make(map[string]struct{})
	w := &walker{
		facts: facts,
		goals: goals,
		b:     datalog.NewBindings(),
		emit: func(b *datalog.Bindings) error {
			row := b.Snapshot()
			key := row.Key()
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
			results = append(results, row)
			return nil
		},
	}
	if err := w.walk(0); err != nil {
		return nil, err
	}
	return results, nil
}
