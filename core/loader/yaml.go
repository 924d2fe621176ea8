package loader

import (
	"errors"
	"fmt"
	"io"

	"github.com/adalundhe/strata/core/assertion"
	"github.com/adalundhe/strata/core/datalog"
	"gopkg.in/yaml.v3"
)

// programFile is the YAML layout:
//
//	facts:
//	  - {pred: edge, terms: [a, b]}
//	rules:
//	  - head: {pred: path, terms: [X, Y]}
//	    body:
//	      - {pred: edge, terms: [X, Y]}
//	      - {pred: blocked, terms: [X], not: true}
//	queries:
//	  - name: reach
//	    goals:
//	      - {pred: path, terms: [a, Y]}
//	    count: {op: ">", n: 2}
type programFile struct {
	Facts   []literalSpec `yaml:"facts"`
	Rules   []ruleSpec    `yaml:"rules"`
	Queries []querySpec   `yaml:"queries"`
}

type literalSpec struct {
	Pred  string   `yaml:"pred"`
	Terms []string `yaml:"terms"`
	Not   bool     `yaml:"not"`
}

type ruleSpec struct {
	Head literalSpec   `yaml:"head"`
	Body []literalSpec `yaml:"body"`
}

type countSpec struct {
	Op string `yaml:"op"`
	N  int    `yaml:"n"`
}

type querySpec struct {
	Name  string        `yaml:"name"`
	Goals []literalSpec `yaml:"goals"`
	Count *countSpec    `yaml:"count"`
}

// DecodeYAML reads a structured program. Unknown keys are rejected.
func DecodeYAML(r io.Reader) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file programFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	prog := &Program{}
	for i, spec := range file.Facts {
		fact, err := spec.expr()
		if err != nil {
			return nil, fmt.Errorf("fact %d: %w", i, err)
		}
		prog.Facts = append(prog.Facts, fact)
	}
	for i, spec := range file.Rules {
		rule, err := spec.rule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		prog.Rules = append(prog.Rules, rule)
	}
	for i, spec := range file.Queries {
		q, err := spec.query()
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		prog.Queries = append(prog.Queries, q)
	}
	return prog, nil
}

func (s literalSpec) expr() (*datalog.Expr, error) {
	if s.Pred == "" {
		return nil, fmt.Errorf("%w: literal without pred", ErrParseFailed)
	}
	if s.Not {
		return datalog.NewNegated(s.Pred, s.Terms...), nil
	}
	return datalog.NewExpr(s.Pred, s.Terms...), nil
}

func (s ruleSpec) rule() (*datalog.Rule, error) {
	head, err := s.Head.expr()
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	body, err := literals(s.Body)
	if err != nil {
		return nil, err
	}
	return datalog.NewRule(head, body...), nil
}

func (s querySpec) query() (Query, error) {
	goals, err := literals(s.Goals)
	if err != nil {
		return Query{}, err
	}
	if s.Count != nil {
		goals = append(goals, assertion.Count(s.Count.Op, s.Count.N))
	}
	return Query{Name: s.Name, Goals: goals}, nil
}

func literals(specs []literalSpec) ([]*datalog.Expr, error) {
	out := make([]*datalog.Expr, 0, len(specs))
	for i, spec := range specs {
		e, err := spec.expr()
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
