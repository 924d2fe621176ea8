package datalog

import (
	"sort"
	"strconv"
	"strings"
)

// Bindings is a flat variable map with a stack of inserted keys, so a
// backtracking search can take a Mark and later Rollback to it in time
// proportional to the entries removed.
type Bindings struct {
	values map[string]string
	stack  []string
}

// NewBindings returns an empty binding map.
func NewBindings() *Bindings {
	return &Bindings{values: make(map[string]string)}
}

// Lookup returns the value bound to variable.
func (b *Bindings) Lookup(variable string) (string, bool) {
	v, ok := b.values[variable]
	return v, ok
}

// Bind records variable = value. Rebinding an already bound variable is a
// caller bug; unification only binds unbound variables.
func (b *Bindings) Bind(variable, value string) {
	b.values[variable] = value
	b.stack = append(b.stack, variable)
}

// Mark returns the current stack depth.
func (b *Bindings) Mark() int {
	return len(b.stack)
}

// Rollback removes every binding made after mark.
func (b *Bindings) Rollback(mark int) {
	for i := len(b.stack) - 1; i >= mark; i-- {
		delete(b.values, b.stack[i])
	}
	b.stack = b.stack[:mark]
}

// Len returns the number of bound variables.
func (b *Bindings) Len() int {
	return len(b.values)
}

// Snapshot copies the current bindings into a result row.
func (b *Bindings) Snapshot() Binding {
	out := make(Binding, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// =============================================================================
// Binding
// =============================================================================

// Binding is one query answer: variable name to value.
type Binding map[string]string

// Key returns a canonical encoding of the row, used to deduplicate answers.
func (r Binding) Key() string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		writePacked(&b, k)
		writePacked(&b, r[k])
	}
	return b.String()
}

// String renders the row as "X=a, Y=b" with variables sorted.
func (r Binding) String() string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + r[k]
	}
	return strings.Join(parts, ", ")
}

// Clone returns a copy of r.
func (r Binding) Clone() Binding {
	out := make(Binding, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Bindings loads the row into a fresh binding map, for substitution.
func (r Binding) Bindings() *Bindings {
	b := NewBindings()
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.Bind(k, r[k])
	}
	return b
}

// CloneBindings deep-copies a result set.
func CloneBindings(rows []Binding) []Binding {
	out := make([]Binding, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// GoalsKey encodes an ordered goal list, used as a result cache key.
func GoalsKey(goals []*Expr) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(goals)))
	for _, g := range goals {
		writePacked(&b, g.Key())
	}
	return b.String()
}
