package datalog

import (
	"fmt"
	"strconv"
)

// Built-in comparison operators.
const (
	OpEq = "="
	OpNe = "<>"
	OpLt = "<"
	OpLe = "<="
	OpGt = ">"
	OpGe = ">="
)

var knownBuiltins = map[string]struct{}{
	OpEq: {}, OpNe: {}, OpLt: {}, OpLe: {}, OpGt: {}, OpGe: {},
}

// IsKnownBuiltin reports whether predicate is one of the six comparison
// operators.
func IsKnownBuiltin(predicate string) bool {
	_, ok := knownBuiltins[predicate]
	return ok
}

// CheckBuiltin verifies that a built-in literal names a known operator and
// has two operands.
func CheckBuiltin(e *Expr) error {
	if !IsKnownBuiltin(e.predicate) {
		return fmt.Errorf("%w: %q", ErrUnknownBuiltin, e.predicate)
	}
	if len(e.terms) != 2 {
		return fmt.Errorf("%w: built-in %s takes 2 operands, got %d", ErrUnsafeRule, e.predicate, len(e.terms))
	}
	return nil
}

// EvalBuiltin evaluates a comparison under b, ignoring the negation flag.
//
// "=" binds a single unbound side to the other and succeeds; it fails with
// ErrUnboundOperands when both sides are unbound. Every other operator
// requires both sides bound. Ordering operators compare numerically and
// treat unparseable operands as 0.
func (e *Expr) EvalBuiltin(b *Bindings) (bool, error) {
	if err := CheckBuiltin(e); err != nil {
		return false, err
	}
	lv, lok := e.operand(0, b)
	rv, rok := e.operand(1, b)

	if e.predicate == OpEq {
		switch {
		case !lok && !rok:
			return false, fmt.Errorf("%w: %s", ErrUnboundOperands, e)
		case !lok:
			e.bindOperand(0, rv, b)
			return true, nil
		case !rok:
			e.bindOperand(1, lv, b)
			return true, nil
		}
		return valuesEqual(lv, rv), nil
	}

	if !lok || !rok {
		return false, fmt.Errorf("%w: %s", ErrUnboundOperands, e)
	}
	switch e.predicate {
	case OpNe:
		return !valuesEqual(lv, rv), nil
	case OpLt:
		return toNumber(lv) < toNumber(rv), nil
	case OpLe:
		return toNumber(lv) <= toNumber(rv), nil
	case OpGt:
		return toNumber(lv) > toNumber(rv), nil
	default:
		return toNumber(lv) >= toNumber(rv), nil
	}
}

func (e *Expr) operand(i int, b *Bindings) (string, bool) {
	t := e.terms[i]
	if !e.vars[i] {
		return t, true
	}
	if t == Wildcard {
		return "", false
	}
	return b.Lookup(t)
}

func (e *Expr) bindOperand(i int, value string, b *Bindings) {
	if t := e.terms[i]; t != Wildcard {
		b.Bind(t, value)
	}
}

// valuesEqual compares as doubles when both sides parse, as strings otherwise.
func valuesEqual(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return a == b
}

func toNumber(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
