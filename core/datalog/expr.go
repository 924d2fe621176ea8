// Package datalog holds the data model of the engine: terms, literals,
// variable bindings, the indexed fact set and rules.
package datalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Wildcard is the anonymous variable. Every occurrence matches any value and
// is never recorded in a binding map.
const Wildcard = "_"

// IsVariable reports whether term names a variable: its first character is
// an uppercase letter or an underscore. Every other term is an opaque atom.
func IsVariable(term string) bool {
	if term == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(term)
	return r == '_' || unicode.IsUpper(r)
}

// =============================================================================
// Expr
// =============================================================================

// Expr is a literal: a predicate applied to an ordered list of terms,
// optionally negated. An Expr is immutable once constructed.
type Expr struct {
	predicate string
	terms     []string
	negated   bool

	vars      []bool
	signature string
	key       string
	ground    bool
	builtin   bool
}

// NewExpr builds a positive literal.
func NewExpr(predicate string, terms ...string) *Expr {
	return newExpr(predicate, terms, false)
}

// NewNegated builds a negated literal.
func NewNegated(predicate string, terms ...string) *Expr {
	return newExpr(predicate, terms, true)
}

// Not returns a negated copy of e.
func Not(e *Expr) *Expr {
	return newExpr(e.predicate, e.terms, true)
}

func newExpr(predicate string, terms []string, negated bool) *Expr {
	e := &Expr{
		predicate: predicate,
		terms:     append([]string(nil), terms...),
		negated:   negated,
		vars:      make([]bool, len(terms)),
		ground:    true,
		builtin:   isBuiltinPredicate(predicate),
	}
	for i, t := range e.terms {
		if IsVariable(t) {
			e.vars[i] = true
			e.ground = false
		}
	}
	e.signature = Signature(predicate, len(terms))
	e.key = e.buildKey()
	return e
}

// Signature returns the index key for a predicate name and arity, "name/arity".
func Signature(predicate string, arity int) string {
	return predicate + "/" + strconv.Itoa(arity)
}

func isBuiltinPredicate(predicate string) bool {
	if predicate == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(predicate)
	if r == '"' || r == '\'' {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// buildKey encodes the literal unambiguously; two literals are equal iff
// their keys are equal.
func (e *Expr) buildKey() string {
	var b strings.Builder
	if e.negated {
		b.WriteByte('!')
	}
	writePacked(&b, e.predicate)
	for _, t := range e.terms {
		writePacked(&b, t)
	}
	return b.String()
}

func writePacked(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// Predicate returns the predicate name.
func (e *Expr) Predicate() string { return e.predicate }

// Terms returns the terms. The slice is shared and must not be modified.
func (e *Expr) Terms() []string { return e.terms }

// Term returns the i-th term.
func (e *Expr) Term(i int) string { return e.terms[i] }

// Arity returns the number of terms.
func (e *Expr) Arity() int { return len(e.terms) }

// Negated reports whether the literal is negated.
func (e *Expr) Negated() bool { return e.negated }

// Signature returns "predicate/arity". It identifies the index bucket of
// the literal, not the literal itself.
func (e *Expr) Signature() string { return e.signature }

// Key returns the equality key of the literal.
func (e *Expr) Key() string { return e.key }

// IsGround reports whether no term is a variable.
func (e *Expr) IsGround() bool { return e.ground }

// IsBuiltin reports whether the predicate starts with a character that is
// neither alphanumeric nor a quote.
func (e *Expr) IsBuiltin() bool { return e.builtin }

// IsVariableAt reports whether the i-th term is a variable.
func (e *Expr) IsVariableAt(i int) bool { return e.vars[i] }

// Equal reports whether predicate, negation and every term match positionally.
func (e *Expr) Equal(other *Expr) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.key == other.key
}

// Positive returns e without negation.
func (e *Expr) Positive() *Expr {
	if !e.negated {
		return e
	}
	return newExpr(e.predicate, e.terms, false)
}

// Variables returns the distinct named variables of e in order of first
// appearance. The wildcard is never included.
func (e *Expr) Variables() []string {
	var out []string
	seen := make(map[string]struct{}, len(e.terms))
	for i, t := range e.terms {
		if !e.vars[i] || t == Wildcard {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// HasWildcard reports whether any term is the anonymous variable.
func (e *Expr) HasWildcard() bool {
	for _, t := range e.terms {
		if t == Wildcard {
			return true
		}
	}
	return false
}

// ValidFact checks that e can be stored in the EDB.
func (e *Expr) ValidFact() error {
	if !e.ground {
		return fmt.Errorf("%w: %s is not ground", ErrInvalidFact, e)
	}
	if e.negated {
		return fmt.Errorf("%w: %s", ErrNegatedFact, e)
	}
	return nil
}

// =============================================================================
// Unification and Substitution
// =============================================================================

// GroundUnify matches the ground literal e against pattern, extending b.
// Unbound pattern variables are bound to e's terms and pushed onto the
// rollback stack; bound ones must agree. On a mismatch it returns false
// immediately and the caller rolls b back to the mark taken before the call.
func (e *Expr) GroundUnify(pattern *Expr, b *Bindings) bool {
	if !e.ground {
		panic(fmt.Sprintf("datalog: GroundUnify on non-ground literal %s", e))
	}
	if e.signature != pattern.signature {
		return false
	}
	for i, t := range pattern.terms {
		value := e.terms[i]
		if !pattern.vars[i] {
			if t != value {
				return false
			}
			continue
		}
		if t == Wildcard {
			continue
		}
		if bound, ok := b.Lookup(t); ok {
			if bound != value {
				return false
			}
			continue
		}
		b.Bind(t, value)
	}
	return true
}

// Substitute replaces every bound variable with its value. It returns e
// itself when nothing is bound.
func (e *Expr) Substitute(b *Bindings) *Expr {
	if e.ground || b.Len() == 0 {
		return e
	}
	var terms []string
	for i, t := range e.terms {
		if !e.vars[i] {
			continue
		}
		value, ok := b.Lookup(t)
		if !ok {
			continue
		}
		if terms == nil {
			terms = append([]string(nil), e.terms...)
		}
		terms[i] = value
	}
	if terms == nil {
		return e
	}
	return newExpr(e.predicate, terms, e.negated)
}

// String renders the literal. Built-ins with two terms print infix.
func (e *Expr) String() string {
	var b strings.Builder
	if e.negated {
		b.WriteString("not ")
	}
	if e.builtin && len(e.terms) == 2 {
		b.WriteString(e.terms[0])
		b.WriteByte(' ')
		b.WriteString(e.predicate)
		b.WriteByte(' ')
		b.WriteString(e.terms[1])
		return b.String()
	}
	b.WriteString(e.predicate)
	b.WriteByte('(')
	b.WriteString(strings.Join(e.terms, ", "))
	b.WriteByte(')')
	return b.String()
}
