package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/adalundhe/strata/core/datalog"
	"github.com/adalundhe/strata/core/loader"
	"github.com/adalundhe/strata/core/universe"
	"github.com/spf13/cobra"
)

// =============================================================================
// Query Command Flags
// =============================================================================

var queryTimeout time.Duration

// =============================================================================
// Query Command
// =============================================================================

var queryCmd = &cobra.Command{
	Use:   "query <file> [goals]",
	Short: "Answer goals against a program",
	Long: `Load a program and answer goals against it. Without goals, every
query embedded in the program is run.

Examples:
  strata query graph.mg 'path(/a, Y)'
  strata query graph.mg 'path(X, Y), X != Y, count(">", 3)'
  strata query graph.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "Abort evaluation after this long (0 = no limit)")
}

// contextQuerier answers queries under a context.
type contextQuerier struct {
	ctx context.Context
	u   *universe.Universe
}

func (q contextQuerier) Query(goals ...*datalog.Expr) ([]datalog.Binding, error) {
	return q.u.QueryContext(q.ctx, goals...)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, queryTimeout)
		defer cancel()
	}

	u, prog, err := loadUniverse(args[0])
	if err != nil {
		return err
	}

	queries := prog.Queries
	if len(args) > 1 {
		goals, err := loader.ParseQuery(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		queries = []loader.Query{{Goals: goals}}
	}
	if len(queries) == 0 {
		return fmt.Errorf("%s: no goals given and no embedded queries", args[0])
	}

	return runQueries(ctx, cmd.OutOrStdout(), u, queries)
}

// loadUniverse parses a program file into a fresh universe.
func loadUniverse(path string) (*universe.Universe, *loader.Program, error) {
	prog, err := loader.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	u := newUniverse()
	if err := prog.Apply(u); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	current.logger.Debug("program loaded",
		slog.String("path", path),
		slog.Int("facts", len(prog.Facts)),
		slog.Int("rules", len(prog.Rules)),
		slog.Int("queries", len(prog.Queries)))
	return u, prog, nil
}

// runQueries prints each query's results. Named queries get a heading. A
// failed query is reported and the rest still run.
func runQueries(ctx context.Context, w io.Writer, u *universe.Universe, queries []loader.Query) error {
	q := contextQuerier{ctx: ctx, u: u}
	var errs []error
	for _, query := range queries {
		if query.Name != "" {
			fmt.Fprintf(w, "# %s: %s\n", query.Name, query)
		}
		rows, err := query.Run(q)
		if err != nil {
			label := query.Name
			if label == "" {
				label = query.String()
			}
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		if err := writeRows(w, rows); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
