package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/adalundhe/strata/core/datalog"
	"golang.org/x/term"
)

// ANSI codes used on terminals only.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func paint(tty bool, color, s string) string {
	if !tty {
		return s
	}
	return color + s + colorReset
}

// columns returns the union of variable names across rows, sorted.
func columns(rows []datalog.Binding) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// writeRows prints query results. Terminals get an aligned table and a row
// count; anything else gets tab-separated values with a header line. Goals
// without variables print "true" or "false".
func writeRows(w io.Writer, rows []datalog.Binding) error {
	tty := isTerminal(w)
	cols := columns(rows)

	if len(cols) == 0 {
		if len(rows) > 0 {
			_, err := fmt.Fprintln(w, paint(tty, colorGreen, "true"))
			return err
		}
		_, err := fmt.Fprintln(w, paint(tty, colorRed, "false"))
		return err
	}

	if !tty {
		if _, err := fmt.Fprintln(w, strings.Join(cols, "\t")); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := fmt.Fprintln(w, strings.Join(rowValues(r, cols), "\t")); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(rowValues(r, cols), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

func rowValues(r datalog.Binding, cols []string) []string {
	values := make([]string, len(cols))
	for i, c := range cols {
		values[i] = r[c]
	}
	return values
}

func writeExprs(w io.Writer, exprs []*datalog.Expr) error {
	for _, e := range exprs {
		if _, err := fmt.Fprintf(w, "%s.\n", e); err != nil {
			return err
		}
	}
	return nil
}
