package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/adalundhe/strata/core/loader"
	"github.com/adalundhe/strata/core/universe"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var checkJobs int

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Validate programs and run their embedded assertions",
	Long: `Check each program: every rule must be safe, the rule set must be
stratified, every fact ground, and every embedded query must succeed.
Queries with a count requirement fail when the count does not hold.

Files are checked concurrently, each in its own universe.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().IntVarP(&checkJobs, "jobs", "j", runtime.NumCPU(), "Maximum files checked at once")
}

// checkResult is the outcome for one file.
type checkResult struct {
	path    string
	queries int
	err     error
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	results := checkFiles(ctx, args, checkJobs)
	return reportChecks(cmd.OutOrStdout(), results)
}

// checkFiles checks every path and returns results in argument order. One
// failing file does not stop the others.
func checkFiles(ctx context.Context, paths []string, jobs int) []checkResult {
	results := make([]checkResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, path := range paths {
		g.Go(func() error {
			results[i] = checkFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkFile(ctx context.Context, path string) checkResult {
	res := checkResult{path: path}
	u, prog, err := loadUniverse(path)
	if err != nil {
		res.err = err
		return res
	}
	if err := u.Validate(); err != nil {
		res.err = err
		return res
	}
	res.queries = len(prog.Queries)
	res.err = runAssertions(ctx, u, prog.Queries)
	return res
}

func runAssertions(ctx context.Context, u *universe.Universe, queries []loader.Query) error {
	q := contextQuerier{ctx: ctx, u: u}
	var errs []error
	for _, query := range queries {
		if _, err := query.Run(q); err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", query.Name, err))
		}
	}
	return errors.Join(errs...)
}

func reportChecks(w io.Writer, results []checkResult) error {
	tty := isTerminal(w)
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", paint(tty, colorRed, "FAIL"), r.path, r.err)
			continue
		}
		fmt.Fprintf(w, "%s   %s (%d queries)\n", paint(tty, colorGreen, "ok"), r.path, r.queries)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d programs failed", failed, len(results))
	}
	return nil
}
