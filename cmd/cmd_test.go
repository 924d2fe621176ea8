package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/strata/core/config"
	"github.com/adalundhe/strata/core/datalog"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// resetFlags restores every flag to its default so runs do not leak state
// into each other through the package-level command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	current = nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func sortedLines(s string) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	sort.Strings(lines)
	return lines
}

func programTarget(path string) watchTargets {
	return watchTargets{program: path, configs: map[string]struct{}{}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Command Definitions
// =============================================================================

func TestCommands_Registered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"query", "check", "facts", "watch"} {
		assert.True(t, names[want], want)
	}

	flags := rootCmd.PersistentFlags()
	cfg := flags.Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
	assert.Equal(t, "[strata.yaml]", cfg.DefValue)
	assert.NotNil(t, flags.Lookup("log-level"))
	assert.NotNil(t, flags.Lookup("max-iterations"))

	assert.Equal(t, DefaultDebounce.String(), watchCmd.Flags().Lookup("debounce").DefValue)
	assert.Equal(t, "*", factsCmd.Flags().Lookup("filter").DefValue)
}

// =============================================================================
// query
// =============================================================================

func TestQuery_Goals(t *testing.T) {
	out, _, err := runCLI(t, "query", "testdata/graph.mg", "path(/a, Y)")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b", "/c", "/d", "Y"}, sortedLines(out))
	assert.True(t, strings.HasPrefix(out, "Y\n"))
}

func TestQuery_GroundGoal(t *testing.T) {
	out, _, err := runCLI(t, "query", "testdata/graph.mg", "path(/a, /d)")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = runCLI(t, "query", "testdata/graph.mg", "path(/d, /a)")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestQuery_GoalsEndingInName(t *testing.T) {
	out, _, err := runCLI(t, "query", "testdata/graph.mg", "path(/a, Y), Y != /c")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b", "/d", "Y"}, sortedLines(out))
}

func TestQuery_EmbeddedQueries(t *testing.T) {
	out, _, err := runCLI(t, "query", "testdata/graph.mg")
	require.NoError(t, err)
	assert.Contains(t, out, `# reach: path(/a, Y), count("=", 3)`)
	assert.Contains(t, out, "# sources: source(X)\nX\n/a\n")
}

func TestQuery_CountFailure(t *testing.T) {
	_, _, err := runCLI(t, "query", "testdata/failing.mg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, datalog.ErrAssertionFailed))
	assert.Contains(t, err.Error(), "too_many")
}

func TestQuery_IterationLimitFlag(t *testing.T) {
	_, _, err := runCLI(t, "--max-iterations", "1", "query", "testdata/graph.mg", "path(X, Y)")
	assert.ErrorIs(t, err, datalog.ErrIterationLimit)
}

func TestQuery_Errors(t *testing.T) {
	_, _, err := runCLI(t, "query", "testdata/graph.mg", "path(/a, ")
	assert.Error(t, err)

	_, _, err = runCLI(t, "query", "testdata/missing.mg", "p(X)")
	assert.Error(t, err)

	_, _, err = runCLI(t, "--log-level", "loud", "query", "testdata/graph.mg", "p(X)")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestQuery_ConfigFileAndMetrics(t *testing.T) {
	out, stderr, err := runCLI(t, "--config", "testdata/debug.yaml", "query", "testdata/graph.mg", "source(X)")
	require.NoError(t, err)
	assert.Equal(t, "X\n/a\n", out)
	assert.Contains(t, stderr, `"msg":"session ready"`)
	assert.Contains(t, stderr, "strata_universe_queries_total 1")
	assert.Contains(t, stderr, "strata_engine_expansions_total 1")
}

func TestQuery_MetricsFlag(t *testing.T) {
	_, stderr, err := runCLI(t, "--metrics", "query", "testdata/graph.mg", "edge(X, Y)")
	require.NoError(t, err)
	assert.Contains(t, stderr, "# TYPE strata_universe_queries_total counter")

	_, stderr, err = runCLI(t, "query", "testdata/graph.mg", "edge(X, Y)")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "strata_universe_queries_total")
}

// =============================================================================
// check
// =============================================================================

func TestCheck(t *testing.T) {
	out, _, err := runCLI(t, "check", "testdata/graph.mg")
	require.NoError(t, err)
	assert.Equal(t, "ok   testdata/graph.mg (2 queries)\n", out)
}

func TestCheck_Failures(t *testing.T) {
	out, _, err := runCLI(t, "check", "-j", "2",
		"testdata/graph.mg", "testdata/failing.mg", "testdata/unstratified.yaml")
	require.Error(t, err)
	assert.Equal(t, "2 of 3 programs failed", err.Error())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ok   testdata/graph.mg"))
	assert.True(t, strings.HasPrefix(lines[1], "FAIL testdata/failing.mg"))
	assert.Contains(t, lines[1], datalog.ErrAssertionFailed.Error())
	assert.True(t, strings.HasPrefix(lines[2], "FAIL testdata/unstratified.yaml"))
	assert.Contains(t, lines[2], datalog.ErrNotStratified.Error())
}

// =============================================================================
// facts
// =============================================================================

func TestFacts(t *testing.T) {
	out, _, err := runCLI(t, "facts", "testdata/graph.mg", "--filter", "node/*")
	require.NoError(t, err)
	assert.Equal(t, "node(/a).\nnode(/b).\nnode(/c).\nnode(/d).\n", out)

	out, _, err = runCLI(t, "facts", "testdata/graph.mg")
	require.NoError(t, err)
	assert.Len(t, sortedLines(out), 7)
}

func TestFacts_Rules(t *testing.T) {
	out, _, err := runCLI(t, "facts", "testdata/graph.mg", "--filter", "path/2", "--rules")
	require.NoError(t, err)
	assert.Equal(t,
		"path(X, Y) :- edge(X, Y).\npath(X, Y) :- edge(X, Z), path(Z, Y).\n", out)
}

func TestFacts_BadFilter(t *testing.T) {
	_, _, err := runCLI(t, "facts", "testdata/graph.mg", "--filter", "[")
	assert.Error(t, err)
}

// =============================================================================
// watch
// =============================================================================

func TestWatchLoop_DebouncesChanges(t *testing.T) {
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ran := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- watchLoop(ctx, watchSource{Events: events, Errors: errs}, programTarget("prog.mg"),
			20*time.Millisecond, discardLogger(), nil, func() error {
				ran <- struct{}{}
				return nil
			})
	}()

	events <- fsnotify.Event{Name: "other.mg", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: "prog.mg", Op: fsnotify.Chmod}
	events <- fsnotify.Event{Name: "prog.mg", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: "./prog.mg", Op: fsnotify.Write}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("rerun not called")
	}
	select {
	case <-ran:
		t.Fatal("burst of writes ran more than once")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchLoop_RerunFailureKeepsWatching(t *testing.T) {
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	calls := make(chan struct{}, 4)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	done := make(chan error, 1)

	go func() {
		done <- watchLoop(context.Background(), watchSource{Events: events, Errors: errs}, programTarget("prog.mg"),
			time.Millisecond, logger, nil, func() error {
				calls <- struct{}{}
				return errors.New("broken program")
			})
	}()

	events <- fsnotify.Event{Name: "prog.mg", Op: fsnotify.Create}
	<-calls
	events <- fsnotify.Event{Name: "prog.mg", Op: fsnotify.Rename}
	<-calls
	errs <- errors.New("overflow")

	close(events)
	require.NoError(t, <-done)
	assert.Contains(t, logs.String(), "broken program")
	assert.Contains(t, logs.String(), "overflow")
}

func TestWatchLoop_ConfigChangeReloadsFirst(t *testing.T) {
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	calls := make(chan string, 8)
	done := make(chan error, 1)
	targets := watchTargets{
		program: "prog.mg",
		configs: map[string]struct{}{"conf/strata.yaml": {}},
	}

	go func() {
		done <- watchLoop(context.Background(), watchSource{Events: events, Errors: errs}, targets,
			time.Millisecond, discardLogger(),
			func() error {
				calls <- "reload"
				return errors.New("bad config")
			},
			func() error {
				calls <- "rerun"
				return nil
			})
	}()

	events <- fsnotify.Event{Name: "conf/./strata.yaml", Op: fsnotify.Write}
	assert.Equal(t, "reload", <-calls)
	assert.Equal(t, "rerun", <-calls, "a failed reload still reruns with the previous config")

	events <- fsnotify.Event{Name: "prog.mg", Op: fsnotify.Write}
	assert.Equal(t, "rerun", <-calls, "program changes do not reload")

	close(events)
	require.NoError(t, <-done)
	assert.Empty(t, calls)
}

func TestWatchTargets_ConfigDirs(t *testing.T) {
	targets := watchTargets{configs: map[string]struct{}{
		"strata.yaml":      {},
		"conf/a.yaml":      {},
		"conf/b.yaml":      {},
		"/etc/strata.yaml": {},
	}}
	assert.Equal(t, []string{"/etc", "conf"}, targets.configDirs("."))
}

func TestServeMetrics_RequiresMetrics(t *testing.T) {
	current = &session{cfg: config.DefaultConfig(), logger: discardLogger()}
	defer func() { current = nil }()

	_, err := serveMetrics("127.0.0.1:0")
	assert.Error(t, err)
}

// =============================================================================
// Output
// =============================================================================

func TestWriteRows(t *testing.T) {
	var buf bytes.Buffer
	rows := []datalog.Binding{
		{"X": "a", "Y": "1"},
		{"X": "b"},
	}
	require.NoError(t, writeRows(&buf, rows))
	assert.Equal(t, "X\tY\na\t1\nb\t\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRows(&buf, []datalog.Binding{{}}))
	assert.Equal(t, "true\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRows(&buf, nil))
	assert.Equal(t, "false\n", buf.String())
}
