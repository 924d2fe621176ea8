package datalog

// Deferred reports whether a goal needs bindings from earlier goals before it
// can run: negated literals and built-ins other than "=".
func Deferred(goal *Expr) bool {
	if goal.negated {
		return true
	}
	return goal.builtin && goal.predicate != OpEq
}

// ReorderGoals moves deferred goals after the others, keeping relative order
// within each group. A positive "=" is also held back until an earlier goal
// binds one of its operands; one that never gets a bound operand is placed
// just before the deferred goals. The input slice is not modified.
func ReorderGoals(goals []*Expr) []*Expr {
	ordered := make([]*Expr, 0, len(goals))
	bound := make(map[string]struct{})
	var held, deferred []*Expr

	place := func(g *Expr) {
		ordered = append(ordered, g)
		for _, v := range g.Variables() {
			bound[v] = struct{}{}
		}
	}
	// release places held "=" goals that became ready, in their original
	// order, until none is left to place.
	release := func() {
		for placed := true; placed; {
			placed = false
			for i, g := range held {
				if termBound(g, 0, bound) || termBound(g, 1, bound) {
					held = append(held[:i:i], held[i+1:]...)
					place(g)
					placed = true
					break
				}
			}
		}
	}

	for _, g := range goals {
		switch {
		case Deferred(g):
			deferred = append(deferred, g)
		case g.builtin && len(g.terms) == 2 && !termBound(g, 0, bound) && !termBound(g, 1, bound):
			held = append(held, g)
		default:
			place(g)
			release()
		}
	}
	ordered = append(ordered, held...)
	return append(ordered, deferred...)
}
