package universe

import (
	"context"
	"log/slog"
	"time"

	"github.com/adalundhe/strata/core/datalog"
	"github.com/adalundhe/strata/core/engine"
)

// Query answers goals with every distinct binding of their variables. An
// empty goal list yields an empty result.
func (u *Universe) Query(goals ...*datalog.Expr) ([]datalog.Binding, error) {
	return u.QueryContext(context.Background(), goals...)
}

// QueryContext is Query with cancellation, checked between fixed-point
// iterations. A cancelled expansion leaves the expansion cache empty.
func (u *Universe) QueryContext(ctx context.Context, goals ...*datalog.Expr) ([]datalog.Binding, error) {
	if len(goals) == 0 {
		return []datalog.Binding{}, nil
	}
	for _, g := range goals {
		if !g.IsBuiltin() {
			continue
		}
		if err := datalog.CheckBuiltin(g); err != nil {
			return nil, err
		}
	}

	key := datalog.GoalsKey(goals)
	if rows, ok := u.results.get(key); ok {
		u.metrics.ObserveCacheHit("result")
		u.metrics.ObserveQuery()
		return rows, nil
	}

	if err := u.expand(ctx, goals); err != nil {
		return nil, err
	}

	rows, err := engine.MatchGoals(u.expanded, datalog.ReorderGoals(goals))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []datalog.Binding{}
	}
	u.results.put(key, rows)
	u.metrics.ObserveQuery()
	return rows, nil
}

// expand materializes every predicate the goals depend on that has not been
// expanded since the last mutation. Signatures are marked seen only after
// their whole closure reached its fixed point.
func (u *Universe) expand(ctx context.Context, goals []*datalog.Expr) error {
	if u.expanded == nil {
		u.expanded = u.edb.Clone()
	}

	var pending []string
	queued := make(map[string]struct{})
	for _, g := range goals {
		if g.IsBuiltin() {
			continue
		}
		sig := g.Signature()
		if _, ok := u.seen[sig]; ok {
			continue
		}
		if _, ok := queued[sig]; ok {
			continue
		}
		queued[sig] = struct{}{}
		pending = append(pending, sig)
	}
	if len(pending) == 0 {
		u.metrics.ObserveCacheHit("expansion")
		return nil
	}

	relevant, closure := engine.NewDependencyGraph(u.rules).Relevant(pending)

	// Seen predicates are already at their fixed point; their rules cannot
	// derive anything new.
	var rules []*datalog.Rule
	for _, r := range relevant {
		if _, ok := u.seen[r.Signature()]; !ok {
			rules = append(rules, r)
		}
	}

	start := time.Now()
	derived, err := u.engine.Expand(ctx, u.expanded, rules)
	if err != nil {
		u.expanded = nil
		u.seen = make(map[string]struct{})
		return err
	}
	for _, sig := range closure {
		u.seen[sig] = struct{}{}
	}

	u.logger.Debug("expanded",
		slog.Any("goals", pending),
		slog.Int("closure", len(closure)),
		slog.Int("rules", len(rules)),
		slog.Int("derived", derived),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
