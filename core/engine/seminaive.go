// Package engine evaluates rule sets bottom-up: it builds the predicate
// dependency graph, stratifies the rules and runs the semi-naive fixed point
// stratum by stratum. It also hosts the goal matcher used to answer queries.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adalundhe/strata/core/datalog"
)

// Engine materializes every fact derivable from a rule set.
type Engine interface {
	// Name identifies the strategy in logs.
	Name() string

	// Expand adds to facts every fact derivable from facts and rules and
	// returns the number added. facts is modified in place; on error it may
	// hold a partial expansion.
	Expand(ctx context.Context, facts *datalog.FactSet, rules []*datalog.Rule) (int, error)
}

// =============================================================================
// SemiNaive Evaluator
// =============================================================================

// SemiNaive is the bottom-up evaluator. Within a stratum, only rules whose
// body mentions a signature that gained facts in the previous iteration are
// re-run.
type SemiNaive struct {
	logger  *slog.Logger
	metrics *Metrics

	// maxIterations bounds each stratum; 0 means unbounded.
	maxIterations int
}

// Option configures a SemiNaive evaluator.
type Option func(*SemiNaive)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *SemiNaive) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *SemiNaive) { e.metrics = m }
}

// WithMaxIterations bounds the number of iterations per stratum.
// Non-positive values mean unbounded.
func WithMaxIterations(n int) Option {
	return func(e *SemiNaive) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewSemiNaive creates the evaluator.
func NewSemiNaive(opts ...Option) *SemiNaive {
	e := &SemiNaive{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Engine.
func (e *SemiNaive) Name() string { return "semi-naive" }

// Expand implements Engine. Rule bodies are reordered before evaluation, so
// callers may pass rules in any body order.
func (e *SemiNaive) Expand(ctx context.Context, facts *datalog.FactSet, rules []*datalog.Rule) (int, error) {
	start := time.Now()

	ordered := make([]*datalog.Rule, len(rules))
	for i, r := range rules {
		ordered[i] = r.Reordered()
	}
	stratifier := NewStratifier(ordered)
	if err := stratifier.Stratify(); err != nil {
		return 0, err
	}

	derived, iterations := 0, 0
	for i, stratum := range stratifier.Strata() {
		select {
		case <-ctx.Done():
			return derived, ctx.Err()
		default:
		}

		n, iters, err := e.evaluateStratum(ctx, i, stratum, facts)
		derived += n
		iterations += iters
		if err != nil {
			return derived, fmt.Errorf("evaluate stratum %d: %w", i, err)
		}
	}

	elapsed := time.Since(start)
	e.metrics.ObserveExpansion(iterations, derived, elapsed)
	e.logger.Debug("expansion complete",
		slog.String("engine", e.Name()),
		slog.Int("rules", len(rules)),
		slog.Int("strata", stratifier.MaxStratum()+1),
		slog.Int("derived", derived),
		slog.Duration("elapsed", elapsed))
	return derived, nil
}

// evaluateStratum runs one stratum to its fixed point. It returns the number
// of facts added and the number of iterations run.
func (e *SemiNaive) evaluateStratum(
	ctx context.Context,
	index int,
	rules []*datalog.Rule,
	facts *datalog.FactSet,
) (int, int, error) {
	dependents := dependentRules(rules)
	active := rules
	derived := 0

	for iteration := 0; ; iteration++ {
		if e.maxIterations > 0 && iteration >= e.maxIterations {
			return derived, iteration, fmt.Errorf("%w: stratum %d after %d iterations", datalog.ErrIterationLimit, index, iteration)
		}
		select {
		case <-ctx.Done():
			return derived, iteration, ctx.Err()
		default:
		}

		fresh := datalog.NewFactSet()
		for _, r := range active {
			if err := matchRule(r, facts, fresh); err != nil {
				return derived, iteration + 1, err
			}
		}
		if fresh.Len() == 0 {
			e.logger.Debug("stratum fixed point reached",
				slog.Int("stratum", index),
				slog.Int("iterations", iteration+1),
				slog.Int("derived", derived))
			return derived, iteration + 1, nil
		}

		derived += facts.MergeFrom(fresh)
		active = nextActive(rules, dependents, fresh.Signatures())
	}
}

// dependentRules maps every positive body signature to the positions of the
// rules that use it.
func dependentRules(rules []*datalog.Rule) map[string][]int {
	index := make(map[string][]int)
	for i, r := range rules {
		seen := make(map[string]struct{})
		for _, lit := range r.Body() {
			if lit.Negated() || lit.IsBuiltin() {
				continue
			}
			sig := lit.Signature()
			if _, ok := seen[sig]; ok {
				continue
			}
			seen[sig] = struct{}{}
			index[sig] = append(index[sig], i)
		}
	}
	return index
}

// nextActive returns, in stratum order, the rules depending on any of the
// given signatures.
func nextActive(rules []*datalog.Rule, dependents map[string][]int, signatures []string) []*datalog.Rule {
	marked := make([]bool, len(rules))
	for _, sig := range signatures {
		for _, i := range dependents[sig] {
			marked[i] = true
		}
	}
	var active []*datalog.Rule
	for i, r := range rules {
		if marked[i] {
			active = append(active, r)
		}
	}
	return active
}
