// Package loader reads Datalog programs from text and YAML files into
// structured facts, rules and queries. The engine never sees source text;
// everything passes through here first.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adalundhe/strata/core/assertion"
	"github.com/adalundhe/strata/core/datalog"
	"github.com/adalundhe/strata/core/universe"
)

var (
	// ErrParseFailed indicates source that could not be parsed.
	ErrParseFailed = errors.New("parse failed")

	// ErrUnsupported indicates syntax the parser accepts but the engine has
	// no meaning for, such as transforms or function applications.
	ErrUnsupported = errors.New("unsupported construct")

	// ErrUnknownFormat indicates a file extension with no registered decoder.
	ErrUnknownFormat = errors.New("unknown program format")
)

// Program is a parsed source file.
type Program struct {
	Facts   []*datalog.Expr
	Rules   []*datalog.Rule
	Queries []Query
}

// Query is a named goal list embedded in a program. Goals may end in an
// assertion.Count literal.
type Query struct {
	Name  string
	Goals []*datalog.Expr
}

// Counted reports whether the query carries a count requirement.
func (q Query) Counted() bool {
	n := len(q.Goals)
	return n > 0 && q.Goals[n-1].Predicate() == assertion.CountPredicate
}

// Run answers the query against q. Counted queries go through
// assertion.Assert and fail when the count does not hold; others return
// whatever the query produces.
func (q Query) Run(querier assertion.Querier) ([]datalog.Binding, error) {
	if q.Counted() {
		return assertion.Assert(querier, q.Goals...)
	}
	return querier.Query(q.Goals...)
}

func (q Query) String() string {
	parts := make([]string, len(q.Goals))
	for i, g := range q.Goals {
		if g.Predicate() == assertion.CountPredicate && g.Arity() == 2 {
			parts[i] = fmt.Sprintf("count(%q, %s)", g.Term(0), g.Term(1))
			continue
		}
		parts[i] = g.String()
	}
	return strings.Join(parts, ", ")
}

// Apply adds the program's facts and then its rules to u. It stops at the
// first rejected item.
func (p *Program) Apply(u *universe.Universe) error {
	if err := u.AddFacts(p.Facts...); err != nil {
		return err
	}
	return u.AddRules(p.Rules...)
}

// Merge appends other's facts, rules and queries.
func (p *Program) Merge(other *Program) {
	p.Facts = append(p.Facts, other.Facts...)
	p.Rules = append(p.Rules, other.Rules...)
	p.Queries = append(p.Queries, other.Queries...)
}

// LoadFile parses a program, choosing the format by extension: .mg and .dl
// are textual Datalog, .yaml and .yml are structured YAML.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	var prog *Program
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mg", ".dl":
		prog, err = ParseProgram(f)
	case ".yaml", ".yml":
		prog, err = DecodeYAML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}
