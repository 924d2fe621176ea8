package datalog

import (
	"fmt"
	"strings"
)

// =============================================================================
// Rule
// =============================================================================

// Rule is a Horn clause with optional negated and built-in body literals:
// Head :- Body[0], Body[1], ..., Body[N].
type Rule struct {
	head *Expr
	body []*Expr
	key  string
}

// NewRule builds a rule. The body keeps the given order; use Reordered to
// move deferred literals last.
func NewRule(head *Expr, body ...*Expr) *Rule {
	r := &Rule{head: head, body: append([]*Expr(nil), body...)}
	var b strings.Builder
	if head != nil {
		writePacked(&b, head.key)
	}
	for _, lit := range r.body {
		writePacked(&b, lit.key)
	}
	r.key = b.String()
	return r
}

// Head returns the head literal.
func (r *Rule) Head() *Expr { return r.head }

// Body returns the body literals. The slice is shared and must not be modified.
func (r *Rule) Body() []*Expr { return r.body }

// Signature returns the head signature.
func (r *Rule) Signature() string { return r.head.signature }

// Key identifies the rule by head and body order.
func (r *Rule) Key() string { return r.key }

// Reordered returns the rule with its body passed through ReorderGoals.
func (r *Rule) Reordered() *Rule {
	ordered := ReorderGoals(r.body)
	for i := range ordered {
		if ordered[i] != r.body[i] {
			return NewRule(r.head, ordered...)
		}
	}
	return r
}

// Validate checks that the rule is well formed and safe:
//   - the head is a positive, non built-in literal without wildcards
//   - the body is not empty and every built-in is a known binary operator
//   - every head variable, and every variable of a negated literal or of a
//     built-in other than "=", is bound by a positive literal
//
// Variables bound through a positive "=" whose other side is bound count as
// bound.
func (r *Rule) Validate() error {
	if err := r.validateShape(); err != nil {
		return err
	}
	bound := r.boundVariables()

	for _, v := range r.head.Variables() {
		if _, ok := bound[v]; !ok {
			return fmt.Errorf("%w: head variable %s of %s does not appear in a positive body literal", ErrUnsafeRule, v, r)
		}
	}
	for _, lit := range r.body {
		if !lit.negated && !lit.builtin {
			continue
		}
		if lit.builtin && !lit.negated && lit.predicate == OpEq {
			if !termBound(lit, 0, bound) && !termBound(lit, 1, bound) {
				return fmt.Errorf("%w: %s has no bound operand in %s", ErrUnsafeRule, lit, r)
			}
			continue
		}
		if lit.builtin && lit.HasWildcard() {
			return fmt.Errorf("%w: built-in %s uses the anonymous variable in %s", ErrUnsafeRule, lit, r)
		}
		for _, v := range lit.Variables() {
			if _, ok := bound[v]; !ok {
				return fmt.Errorf("%w: variable %s of %s is not bound by a positive literal in %s", ErrUnsafeRule, v, lit, r)
			}
		}
	}
	return nil
}

func (r *Rule) validateShape() error {
	if r.head == nil {
		return fmt.Errorf("%w: rule has no head", ErrUnsafeRule)
	}
	if r.head.negated {
		return fmt.Errorf("%w: head %s is negated", ErrUnsafeRule, r.head)
	}
	if r.head.builtin {
		return fmt.Errorf("%w: head %s is a built-in", ErrUnsafeRule, r.head)
	}
	if r.head.HasWildcard() {
		return fmt.Errorf("%w: head %s uses the anonymous variable", ErrUnsafeRule, r.head)
	}
	if len(r.body) == 0 {
		return fmt.Errorf("%w: rule for %s has an empty body", ErrUnsafeRule, r.head)
	}
	for _, lit := range r.body {
		if !lit.builtin {
			continue
		}
		if err := CheckBuiltin(lit); err != nil {
			return fmt.Errorf("%w in %s", err, r)
		}
	}
	return nil
}

// boundVariables collects variables of positive ordinary literals, then
// propagates through positive "=" literals until nothing changes.
func (r *Rule) boundVariables() map[string]struct{} {
	bound := make(map[string]struct{})
	for _, lit := range r.body {
		if lit.negated || lit.builtin {
			continue
		}
		for _, v := range lit.Variables() {
			bound[v] = struct{}{}
		}
	}
	for changed := true; changed; {
		changed = false
		for _, lit := range r.body {
			if lit.negated || !lit.builtin || lit.predicate != OpEq || len(lit.terms) != 2 {
				continue
			}
			for i := 0; i < 2; i++ {
				other := lit.terms[1-i]
				if !lit.vars[1-i] || other == Wildcard {
					continue
				}
				if _, ok := bound[other]; ok {
					continue
				}
				if termBound(lit, i, bound) {
					bound[other] = struct{}{}
					changed = true
				}
			}
		}
	}
	return bound
}

func termBound(lit *Expr, i int, bound map[string]struct{}) bool {
	if !lit.vars[i] {
		return true
	}
	_, ok := bound[lit.terms[i]]
	return ok
}

// String renders "head :- body" without a trailing period.
func (r *Rule) String() string {
	parts := make([]string, len(r.body))
	for i, lit := range r.body {
		parts[i] = lit.String()
	}
	return fmt.Sprintf("%s :- %s", r.head, strings.Join(parts, ", "))
}
