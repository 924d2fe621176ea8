package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/strata/core/config"
	"github.com/adalundhe/strata/core/loader"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// DefaultDebounce is how long the watcher waits after the last change
// before re-running.
const DefaultDebounce = 100 * time.Millisecond

var (
	watchDebounce    time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch <file> <goals>",
	Short: "Re-run goals whenever the program file changes",
	Long: `Answer goals, then reload the program and answer them again every
time the file is written. Changes to a config file reload the
configuration before the goals run again. Stop with Ctrl-C.

Examples:
  strata watch graph.mg 'path(/a, Y)'
  strata watch graph.mg 'reachable(X)' --metrics --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", DefaultDebounce, "Quiet period after a change before re-running")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching (requires metrics)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	path := filepath.Clean(args[0])
	goals, err := loader.ParseQuery(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	rerun := func() error {
		u, _, err := loadUniverse(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# %s\n", time.Now().Format(time.TimeOnly))
		return runQueries(ctx, w, u, []loader.Query{{Goals: goals}})
	}
	if err := rerun(); err != nil {
		current.logger.Error("initial run failed", slog.String("error", err.Error()))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := watchTargets{program: path, configs: make(map[string]struct{})}
	for _, p := range configPaths {
		targets.configs[filepath.Clean(p)] = struct{}{}
	}
	// Editors often replace files by rename, which drops a watch on the file
	// itself; the directory watch survives it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	for _, dir := range targets.configDirs(filepath.Dir(path)) {
		if err := watcher.Add(dir); err != nil {
			current.logger.Debug("config directory not watched", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}

	current.mgr.OnChange(func(cfg *config.Config) {
		current.cfg = cfg
		current.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
		current.logger.Info("configuration reloaded",
			slog.Int("max_iterations", cfg.Engine.MaxIterations),
			slog.Bool("dedup_rules", cfg.Engine.DedupRules))
	})

	if watchMetricsAddr != "" {
		stop, err := serveMetrics(watchMetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	src := watchSource{Events: watcher.Events, Errors: watcher.Errors}
	return watchLoop(ctx, src, targets, watchDebounce, current.logger, current.mgr.Reload, rerun)
}

// watchSource carries fsnotify's channels so the loop can be driven without
// a real watcher.
type watchSource struct {
	Events <-chan fsnotify.Event
	Errors <-chan error
}

// watchTargets names the files whose changes trigger a rerun. Changes to a
// config file reload the configuration first.
type watchTargets struct {
	program string
	configs map[string]struct{}
}

// configDirs returns the directories holding config files, except skip.
func (t watchTargets) configDirs(skip string) []string {
	seen := map[string]struct{}{skip: {}}
	var dirs []string
	for p := range t.configs {
		dir := filepath.Dir(p)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// watchLoop calls rerun once changes to a target have been quiet for
// debounce, calling reload first when a config file was among them. Failed
// reloads and reruns are logged and watching continues. It returns when ctx
// is done or either channel closes.
func watchLoop(ctx context.Context, src watchSource, targets watchTargets, debounce time.Duration, logger *slog.Logger, reload, rerun func() error) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	configChanged := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(ev.Name)
			if _, ok := targets.configs[name]; ok {
				configChanged = true
			} else if name != targets.program {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-src.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.String("error", err.Error()))
		case <-timer.C:
			if configChanged && reload != nil {
				configChanged = false
				if err := reload(); err != nil {
					logger.Error("config reload failed", slog.String("error", err.Error()))
				}
			}
			logger.Debug("program changed", slog.String("path", targets.program))
			if err := rerun(); err != nil {
				logger.Error("rerun failed", slog.String("path", targets.program), slog.String("error", err.Error()))
			}
		}
	}
}

// serveMetrics exposes the session registry over HTTP until stop is called.
func serveMetrics(addr string) (stop func(), err error) {
	if current.registry == nil {
		return nil, errors.New("--metrics-addr needs metrics enabled (--metrics or metrics.enabled)")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			current.logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
	current.logger.Info("serving metrics", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
