// Package config loads strata settings from YAML files layered over defaults,
// followed by STRATA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

type Manager struct {
	config    atomic.Pointer[Config]
	paths     []string
	overrides Overrides
	watchers  []func(*Config)
	watcherMu sync.RWMutex
}

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EngineConfig struct {
	// DedupRules drops a rule identical to one already stored instead of
	// storing it twice.
	DedupRules bool `yaml:"dedup_rules"`
	// MaxIterations bounds each stratum's fixed point; 0 is unbounded.
	MaxIterations int `yaml:"max_iterations"`
}

type CacheConfig struct {
	// ResultCacheSize is the number of query results kept; 0 disables the cache.
	ResultCacheSize int `yaml:"result_cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

func NewManager() *Manager {
	m := &Manager{}
	m.config.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DedupRules:    true,
			MaxIterations: 0,
		},
		Cache: CacheConfig{
			ResultCacheSize: 128,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "strata",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Load rebuilds the configuration from defaults, each path in order (missing
// files are skipped), the environment and the overrides last passed to
// Apply. The previous configuration stays in effect when loading fails.
func (m *Manager) Load(paths ...string) error {
	cfg := DefaultConfig()

	for _, path := range paths {
		if err := loadYAMLFile(path, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnvironment(cfg)
	if !m.overrides.IsZero() {
		m.overrides.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.paths = append([]string(nil), paths...)
	m.config.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

// Apply layers overrides over the current configuration. They are kept and
// layered again by later loads.
func (m *Manager) Apply(o Overrides) error {
	cfg := *m.Get()
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.overrides = o
	m.config.Store(&cfg)
	m.notifyWatchers(&cfg)
	return nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("STRATA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("STRATA_DEDUP_RULES"); v != "" {
		cfg.Engine.DedupRules = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("STRATA_MAX_ITERATIONS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Engine.MaxIterations = n
		}
	}
	if v := os.Getenv("STRATA_RESULT_CACHE_SIZE"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cache.ResultCacheSize = n
		}
	}
}

func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Engine.MaxIterations < 0 {
		return fmt.Errorf("%w: engine.max_iterations must not be negative", ErrInvalidConfig)
	}
	if c.Cache.ResultCacheSize < 0 {
		return fmt.Errorf("%w: cache.result_cache_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel maps Level to a slog level. Unknown values map to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OnChange registers fn to run, on the loading goroutine, after every
// successful Load or Apply.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Reload repeats the last successful Load with the same paths.
func (m *Manager) Reload() error {
	return m.Load(m.paths...)
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
