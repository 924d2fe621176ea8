package config

// Overrides is a sparse configuration layer, typically built from command
// line flags. Nil fields leave the underlying value untouched, so a layer
// can turn a boolean off or set a count to zero.
type Overrides struct {
	LogLevel        *string
	LogFormat       *string
	DedupRules      *bool
	MaxIterations   *int
	ResultCacheSize *int
	MetricsEnabled  *bool
}

// Apply copies every set field into cfg.
func (o Overrides) Apply(cfg *Config) {
	mergeScalar(&cfg.Log.Level, o.LogLevel)
	mergeScalar(&cfg.Log.Format, o.LogFormat)
	mergeScalar(&cfg.Engine.DedupRules, o.DedupRules)
	mergeScalar(&cfg.Engine.MaxIterations, o.MaxIterations)
	mergeScalar(&cfg.Cache.ResultCacheSize, o.ResultCacheSize)
	mergeScalar(&cfg.Metrics.Enabled, o.MetricsEnabled)
}

// IsZero reports whether no field is set.
func (o Overrides) IsZero() bool {
	return o == Overrides{}
}

func mergeScalar[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
