package loader

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/adalundhe/strata/core/assertion"
	"github.com/adalundhe/strata/core/datalog"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/parse"
)

// Reserved predicates in textual programs. A clause with head query(/name)
// declares an embedded query; a trailing count("op", N) premise in a query
// becomes a count requirement.
const (
	queryPredicate = "query"
	countPredicate = "count"
)

var comparisons = map[string]string{
	":lt": datalog.OpLt,
	":le": datalog.OpLe,
	":gt": datalog.OpGt,
	":ge": datalog.OpGe,
}

// ParseProgram reads textual Datalog in Mangle syntax:
//
//	edge(/a, /b).
//	path(X, Y) :- edge(X, Y).
//	path(X, Y) :- edge(X, Z), path(Z, Y).
//	query(/reach) :- path(/a, Y), count(">", 2).
//
// Name constants keep their leading slash, strings keep their quotes and
// numbers are rendered in decimal, so every constant stays distinguishable
// from a variable. Declarations are ignored.
func ParseProgram(r io.Reader) (*Program, error) {
	unit, err := parse.Unit(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	prog := &Program{}
	for i, clause := range unit.Clauses {
		if err := addClause(prog, clause); err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
	}
	return prog, nil
}

// ParseQuery reads a comma-separated goal list such as
// `path(/a, Y), Y != /c`. A trailing period is optional.
func ParseQuery(src string) ([]*datalog.Expr, error) {
	src = strings.TrimSpace(src)
	src = strings.TrimSuffix(src, ".")
	if src == "" {
		return nil, nil
	}
	unit, err := parse.Unit(strings.NewReader(queryPredicate + "(/q) :- " + src + " ."))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if len(unit.Clauses) != 1 {
		return nil, fmt.Errorf("%w: expected one goal list, got %d clauses", ErrParseFailed, len(unit.Clauses))
	}
	return convertGoals(unit.Clauses[0].Premises, true)
}

func addClause(prog *Program, clause ast.Clause) error {
	if clause.Transform != nil {
		return fmt.Errorf("%w: transform on %s", ErrUnsupported, clause.Head.Predicate.Symbol)
	}

	if clause.Head.Predicate.Symbol == queryPredicate {
		q, err := convertQuery(clause)
		if err != nil {
			return err
		}
		prog.Queries = append(prog.Queries, q)
		return nil
	}

	head, err := convertAtom(clause.Head, false)
	if err != nil {
		return err
	}
	if len(clause.Premises) == 0 {
		prog.Facts = append(prog.Facts, head)
		return nil
	}
	body, err := convertGoals(clause.Premises, false)
	if err != nil {
		return err
	}
	prog.Rules = append(prog.Rules, datalog.NewRule(head, body...))
	return nil
}

func convertQuery(clause ast.Clause) (Query, error) {
	args := clause.Head.Args
	if len(args) != 1 {
		return Query{}, fmt.Errorf("%w: query head takes one name, got %d arguments", ErrUnsupported, len(args))
	}
	name, ok := args[0].(ast.Constant)
	if !ok || name.Type != ast.NameType {
		return Query{}, fmt.Errorf("%w: query name must be a name constant", ErrUnsupported)
	}
	goals, err := convertGoals(clause.Premises, true)
	if err != nil {
		return Query{}, fmt.Errorf("query %s: %w", name.Symbol, err)
	}
	return Query{Name: strings.TrimPrefix(name.Symbol, "/"), Goals: goals}, nil
}

func convertGoals(premises []ast.Term, allowCount bool) ([]*datalog.Expr, error) {
	goals := make([]*datalog.Expr, 0, len(premises))
	for i, p := range premises {
		if atom, ok := p.(ast.Atom); ok && atom.Predicate.Symbol == countPredicate && allowCount {
			if i != len(premises)-1 {
				return nil, fmt.Errorf("premise %d: %w", i, assertion.ErrMisplacedCount)
			}
			count, err := convertCount(atom)
			if err != nil {
				return nil, fmt.Errorf("premise %d: %w", i, err)
			}
			goals = append(goals, count)
			continue
		}
		g, err := convertPremise(p)
		if err != nil {
			return nil, fmt.Errorf("premise %d: %w", i, err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}

func convertPremise(term ast.Term) (*datalog.Expr, error) {
	switch t := term.(type) {
	case ast.Atom:
		return convertAtom(t, false)
	case ast.NegAtom:
		return convertAtom(t.Atom, true)
	case ast.Eq:
		return binary(datalog.OpEq, t.Left, t.Right, false)
	case ast.Ineq:
		return binary(datalog.OpNe, t.Left, t.Right, false)
	default:
		return nil, fmt.Errorf("%w: premise %v", ErrUnsupported, term)
	}
}

func convertAtom(atom ast.Atom, negated bool) (*datalog.Expr, error) {
	if op, ok := comparisons[atom.Predicate.Symbol]; ok {
		if len(atom.Args) != 2 {
			return nil, fmt.Errorf("%w: %s takes 2 operands", datalog.ErrUnsafeRule, op)
		}
		return binary(op, atom.Args[0], atom.Args[1], negated)
	}
	if strings.HasPrefix(atom.Predicate.Symbol, ":") {
		return nil, fmt.Errorf("%w: built-in %s", ErrUnsupported, atom.Predicate.Symbol)
	}

	terms := make([]string, len(atom.Args))
	for i, arg := range atom.Args {
		s, err := convertTerm(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", atom.Predicate.Symbol, i, err)
		}
		terms[i] = s
	}
	if negated {
		return datalog.NewNegated(atom.Predicate.Symbol, terms...), nil
	}
	return datalog.NewExpr(atom.Predicate.Symbol, terms...), nil
}

func binary(op string, left, right ast.BaseTerm, negated bool) (*datalog.Expr, error) {
	l, err := convertTerm(left)
	if err != nil {
		return nil, err
	}
	r, err := convertTerm(right)
	if err != nil {
		return nil, err
	}
	if negated {
		return datalog.NewNegated(op, l, r), nil
	}
	return datalog.NewExpr(op, l, r), nil
}

func convertTerm(term ast.BaseTerm) (string, error) {
	switch t := term.(type) {
	case ast.Variable:
		return t.Symbol, nil
	case ast.Constant:
		switch t.Type {
		case ast.NameType:
			return t.Symbol, nil
		case ast.StringType:
			return strconv.Quote(t.Symbol), nil
		case ast.NumberType:
			return strconv.FormatInt(t.NumValue, 10), nil
		case ast.Float64Type:
			f, err := t.Float64Value()
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		return "", fmt.Errorf("%w: constant %v", ErrUnsupported, t)
	default:
		return "", fmt.Errorf("%w: term %v", ErrUnsupported, term)
	}
}

func convertCount(atom ast.Atom) (*datalog.Expr, error) {
	if len(atom.Args) != 2 {
		return nil, fmt.Errorf("%w: count takes an operator and a number", assertion.ErrMisplacedCount)
	}
	op, ok := atom.Args[0].(ast.Constant)
	if !ok || op.Type != ast.StringType {
		return nil, fmt.Errorf("%w: count operator must be a string", assertion.ErrMisplacedCount)
	}
	n, ok := atom.Args[1].(ast.Constant)
	if !ok || n.Type != ast.NumberType {
		return nil, fmt.Errorf("%w: count bound must be an integer", assertion.ErrMisplacedCount)
	}
	return assertion.Count(op.Symbol, int(n.NumValue)), nil
}
