package universe

import (
	"log/slog"

	"github.com/adalundhe/strata/core/config"
	"github.com/adalundhe/strata/core/engine"
)

// Option configures a Universe.
type Option func(*Universe)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(u *Universe) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink shared with the default engine.
func WithMetrics(m *engine.Metrics) Option {
	return func(u *Universe) { u.metrics = m }
}

// WithEngine replaces the default semi-naive engine.
func WithEngine(e engine.Engine) Option {
	return func(u *Universe) { u.engine = e }
}

// WithConfig applies the engine and cache settings of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(u *Universe) {
		if cfg == nil {
			return
		}
		u.dedupRules = cfg.Engine.DedupRules
		u.maxIterations = cfg.Engine.MaxIterations
		u.resultCacheSize = cfg.Cache.ResultCacheSize
	}
}

// WithRuleDedup controls whether an identical rule added twice is stored once.
func WithRuleDedup(enabled bool) Option {
	return func(u *Universe) { u.dedupRules = enabled }
}

// WithResultCacheSize sets the number of cached query results; 0 disables it.
func WithResultCacheSize(size int) Option {
	return func(u *Universe) { u.resultCacheSize = size }
}
