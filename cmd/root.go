// Package cmd provides the strata command line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/adalundhe/strata/core/config"
	"github.com/adalundhe/strata/core/engine"
	"github.com/adalundhe/strata/core/universe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// DefaultConfigPath is read when present; a missing file is not an error.
const DefaultConfigPath = "strata.yaml"

// =============================================================================
// Global Flags
// =============================================================================

var (
	configPaths   []string
	logLevel      string
	logFormat     string
	maxIterations int
	noDedup       bool
	metricsDump   bool
)

// session is the per-invocation state built from configuration before any
// subcommand runs.
type session struct {
	mgr      *config.Manager
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *engine.Metrics
}

var current *session

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata - a stratified Datalog engine",
	Long: `Strata evaluates Datalog programs with stratified negation and
comparison built-ins. Programs are read from Mangle-syntax text (.mg, .dl)
or structured YAML (.yaml, .yml).`,
	SilenceUsage:      true,
	PersistentPreRunE: setupSession,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return dumpMetrics(cmd.ErrOrStderr())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVarP(&configPaths, "config", "c", []string{DefaultConfigPath}, "Configuration files, later files override earlier ones")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	flags.IntVar(&maxIterations, "max-iterations", 0, "Fail a stratum after this many iterations (0 = unbounded)")
	flags.BoolVar(&noDedup, "no-dedup", false, "Keep identical rules instead of ignoring duplicates")
	flags.BoolVar(&metricsDump, "metrics", false, "Write Prometheus metrics to stderr when the command finishes")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a context that subcommands use
// for cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// =============================================================================
// Session Setup
// =============================================================================

func setupSession(cmd *cobra.Command, _ []string) error {
	mgr := config.NewManager()
	if err := mgr.Load(configPaths...); err != nil {
		return err
	}
	if err := mgr.Apply(flagOverrides(cmd)); err != nil {
		return err
	}
	cfg := mgr.Get()

	s := &session{
		mgr:    mgr,
		cfg:    cfg,
		logger: cfg.Log.NewLogger(cmd.ErrOrStderr()),
	}
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		m, err := engine.NewMetrics(engine.MetricsConfig{
			Namespace:  cfg.Metrics.Namespace,
			Registerer: s.registry,
		})
		if err != nil {
			return err
		}
		s.metrics = m
	}
	current = s
	s.logger.Debug("session ready",
		slog.String("command", cmd.Name()),
		slog.Bool("dedup_rules", cfg.Engine.DedupRules),
		slog.Int("max_iterations", cfg.Engine.MaxIterations),
		slog.Int("result_cache_size", cfg.Cache.ResultCacheSize))
	return nil
}

func flagOverrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		o.LogLevel = &logLevel
	}
	if flags.Changed("log-format") {
		o.LogFormat = &logFormat
	}
	if flags.Changed("max-iterations") {
		o.MaxIterations = &maxIterations
	}
	if flags.Changed("no-dedup") {
		dedup := !noDedup
		o.DedupRules = &dedup
	}
	if flags.Changed("metrics") {
		o.MetricsEnabled = &metricsDump
	}
	return o
}

// newUniverse builds an empty universe configured for this session.
func newUniverse() *universe.Universe {
	return universe.New(
		universe.WithConfig(current.cfg),
		universe.WithLogger(current.logger),
		universe.WithMetrics(current.metrics),
	)
}

func dumpMetrics(w io.Writer) error {
	if current == nil || current.registry == nil {
		return nil
	}
	families, err := current.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
