package reqorch

import (
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvConfig holds the subset of Orchestrator tunables that make sense to
// override from the environment at process startup (deployment-time
// concerns like concurrency limits and timeouts), as opposed to
// call-site concerns like interceptors and cache policy, which stay in
// code via Option.
type EnvConfig struct {
	ConcurrentRequests int
	QueueTimeout       time.Duration
	MaxRetries         int
	DefaultTimeout     time.Duration
	CacheDefaultFresh  time.Duration
	MetricsEnabled     bool
}

// defaultEnvConfig mirrors defaultConfig's values so LoadEnvConfig never
// returns a zero-value field that would silently disable something.
func defaultEnvConfig() EnvConfig {
	return EnvConfig{
		ConcurrentRequests: 10,
		QueueTimeout:       30 * time.Second,
		MaxRetries:         3,
		DefaultTimeout:     30 * time.Second,
		CacheDefaultFresh:  0,
		MetricsEnabled:     false,
	}
}

// LoadEnvConfig reads orchestrator tunables from environment variables
// under the given prefix (e.g. prefix "REQORCH_" reads
// REQORCH_CONCURRENT_REQUESTS, REQORCH_QUEUE_TIMEOUT, etc.), overlaying
// them onto sane defaults. Durations use Go's time.ParseDuration syntax
// ("30s", "500ms"); REQORCH_METRICS_ENABLED accepts "true"/"false".
func LoadEnvConfig(prefix string) (EnvConfig, error) {
	cfg := defaultEnvConfig()

	k := koanf.New(".")
	transform := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		return strings.ToLower(s)
	}
	if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
		return cfg, newInternalError("loading env config: " + err.Error())
	}

	if k.Exists("concurrent_requests") {
		cfg.ConcurrentRequests = k.Int("concurrent_requests")
	}
	if k.Exists("queue_timeout") {
		if d, err := time.ParseDuration(k.String("queue_timeout")); err == nil {
			cfg.QueueTimeout = d
		}
	}
	if k.Exists("max_retries") {
		cfg.MaxRetries = k.Int("max_retries")
	}
	if k.Exists("default_timeout") {
		if d, err := time.ParseDuration(k.String("default_timeout")); err == nil {
			cfg.DefaultTimeout = d
		}
	}
	if k.Exists("cache_default_fresh") {
		if d, err := time.ParseDuration(k.String("cache_default_fresh")); err == nil {
			cfg.CacheDefaultFresh = d
		}
	}
	if k.Exists("metrics_enabled") {
		cfg.MetricsEnabled = k.Bool("metrics_enabled")
	}

	return cfg, nil
}

// Options converts the loaded EnvConfig into Option values, to be
// combined with call-site options: reqorch.New(append(envCfg.Options(),
// reqorch.WithAdapter(a))...).
func (e EnvConfig) Options() []Option {
	opts := []Option{
		WithConcurrentRequests(e.ConcurrentRequests),
		WithQueueTimeout(e.QueueTimeout),
		WithMaxRetries(e.MaxRetries),
		WithDefaultTimeout(e.DefaultTimeout),
	}
	if e.CacheDefaultFresh > 0 {
		opts = append(opts, WithCache(e.CacheDefaultFresh))
	}
	if e.MetricsEnabled {
		opts = append(opts, WithMetrics())
	}
	return opts
}
