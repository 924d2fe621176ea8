package universe

import (
	"context"
	"log/slog"

	"github.com/adalundhe/strata/core/datalog"
)

// Delete removes from the EDB every fact obtained by substituting an answer
// of goals into a positive goal. Derived facts are never stored in the EDB,
// so a goal that only matches derived facts removes nothing. Goals that are
// still not ground after substitution (they use "_") remove every EDB fact
// they match. Returns true if at least one fact was removed.
func (u *Universe) Delete(goals ...*datalog.Expr) (bool, error) {
	return u.DeleteContext(context.Background(), goals...)
}

// DeleteContext is Delete with cancellation of the underlying query.
func (u *Universe) DeleteContext(ctx context.Context, goals ...*datalog.Expr) (bool, error) {
	rows, err := u.QueryContext(ctx, goals...)
	if err != nil {
		return false, err
	}

	var doomed []*datalog.Expr
	for _, row := range rows {
		b := row.Bindings()
		for _, g := range goals {
			if g.IsBuiltin() || g.Negated() {
				continue
			}
			target := g.Substitute(b)
			if target.IsGround() {
				doomed = append(doomed, target)
				continue
			}
			doomed = append(doomed, u.matchEDB(target)...)
		}
	}

	removed := u.edb.RemoveAll(doomed)
	if removed == 0 {
		return false, nil
	}
	u.logger.Debug("facts deleted", slog.Int("removed", removed))
	u.Invalidate()
	return true, nil
}

func (u *Universe) matchEDB(pattern *datalog.Expr) []*datalog.Expr {
	var out []*datalog.Expr
	b := datalog.NewBindings()
	for _, f := range u.edb.BySignature(pattern.Signature()) {
		mark := b.Mark()
		if f.GroundUnify(pattern, b) {
			out = append(out, f)
		}
		b.Rollback(mark)
	}
	return out
}
