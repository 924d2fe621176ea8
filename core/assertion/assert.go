// Package assertion checks query results against expectations. It is built
// entirely on ordinary queries and never reaches into the engine.
package assertion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adalundhe/strata/core/datalog"
)

// CountPredicate names the synthetic literal that carries a count
// requirement. It is stripped before the remaining goals are queried.
const CountPredicate = "#count"

// ErrMisplacedCount indicates a count literal that is not the last goal, or
// one with malformed operands.
var ErrMisplacedCount = errors.New("count literal must be the last goal")

// Querier answers goals with bindings. *universe.Universe satisfies it.
type Querier interface {
	Query(goals ...*datalog.Expr) ([]datalog.Binding, error)
}

// Count builds the synthetic literal requiring the number of results to
// satisfy "count op n", for example Count(">", 3).
func Count(op string, n int) *datalog.Expr {
	return datalog.NewExpr(CountPredicate, op, strconv.Itoa(n))
}

// Requirement is a parsed count literal.
type Requirement struct {
	Op string
	N  int
}

func (r Requirement) String() string {
	return "count " + r.Op + " " + strconv.Itoa(r.N)
}

// Holds reports whether got satisfies the requirement.
func (r Requirement) Holds(got int) bool {
	switch r.Op {
	case datalog.OpEq:
		return got == r.N
	case datalog.OpNe:
		return got != r.N
	case datalog.OpLt:
		return got < r.N
	case datalog.OpLe:
		return got <= r.N
	case datalog.OpGt:
		return got > r.N
	case datalog.OpGe:
		return got >= r.N
	}
	return false
}

// Split separates a trailing count literal from the query goals. The
// returned requirement is nil when there is none.
func Split(goals []*datalog.Expr) ([]*datalog.Expr, *Requirement, error) {
	for i, g := range goals {
		if g.Predicate() != CountPredicate {
			continue
		}
		if i != len(goals)-1 {
			return nil, nil, fmt.Errorf("%w: found at position %d of %d", ErrMisplacedCount, i, len(goals))
		}
		req, err := parseRequirement(g)
		if err != nil {
			return nil, nil, err
		}
		return goals[:i], req, nil
	}
	return goals, nil, nil
}

func parseRequirement(g *datalog.Expr) (*Requirement, error) {
	if g.Negated() || g.Arity() != 2 {
		return nil, fmt.Errorf("%w: malformed %s", ErrMisplacedCount, g)
	}
	op := g.Term(0)
	if !datalog.IsKnownBuiltin(op) {
		return nil, fmt.Errorf("%w: %q", datalog.ErrUnknownBuiltin, op)
	}
	n, err := strconv.Atoi(g.Term(1))
	if err != nil {
		return nil, fmt.Errorf("%w: count operand %q is not an integer", ErrMisplacedCount, g.Term(1))
	}
	return &Requirement{Op: op, N: n}, nil
}

// Assert runs goals and returns their results when the expectation holds.
// Goals may end in a Count literal; without one, at least one result is
// required. A failed expectation wraps datalog.ErrAssertionFailed.
func Assert(q Querier, goals ...*datalog.Expr) ([]datalog.Binding, error) {
	goals, req, err := Split(goals)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(goals...)
	if err != nil {
		return nil, err
	}

	if req == nil {
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: %s: no results", datalog.ErrAssertionFailed, describe(goals))
		}
		return rows, nil
	}
	if !req.Holds(len(rows)) {
		return nil, fmt.Errorf("%w: %s: got %d results, want %s",
			datalog.ErrAssertionFailed, describe(goals), len(rows), req)
	}
	return rows, nil
}

func describe(goals []*datalog.Expr) string {
	parts := make([]string, len(goals))
	for i, g := range goals {
		parts[i] = g.String()
	}
	return strings.Join(parts, ", ")
}
