package reqorch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures an Orchestrator at construction time.
type Option func(*config)

type config struct {
	adapter Adapter

	concurrentRequests int
	queueTimeout       time.Duration

	retryPolicy RetryPolicy
	retryBudget *RetryBudget

	circuitBreaker *CircuitBreaker

	rateLimiter *RateLimiter

	cachePolicy      CachePolicy
	cacheShardCount  int
	cacheMaxPerShard int
	cacheEnabled     bool

	validateStatus ValidateStatus

	logger      Logger
	debugConfig DebugConfig

	metrics     *Metrics
	metricsName string

	interceptors *interceptorChain

	defaultTimeout time.Duration
}

func defaultConfig() *config {
	return &config{
		concurrentRequests: 10,
		queueTimeout:       30 * time.Second,
		retryPolicy:        NewExponentialRetryPolicy(3, 100*time.Millisecond, 10*time.Second, 2.0, 0.2, nil),
		validateStatus:     DefaultValidateStatus,
		logger:             noopLogger{},
		interceptors:       newInterceptorChain(),
		defaultTimeout:     30 * time.Second,
		metricsName:        "default",
	}
}

// WithAdapter sets the transport Adapter. Required; New panics without
// one.
func WithAdapter(a Adapter) Option {
	return func(c *config) { c.adapter = a }
}

// WithConcurrentRequests bounds how many requests may be in flight
// against the adapter simultaneously.
func WithConcurrentRequests(n int) Option {
	return func(c *config) { c.concurrentRequests = n }
}

// WithQueueTimeout bounds how long a request may wait for a concurrency
// slot before failing with KindQueueFull.
func WithQueueTimeout(d time.Duration) Option {
	return func(c *config) { c.queueTimeout = d }
}

// WithRetryPolicy overrides the default exponential-jitter RetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *config) { c.retryPolicy = p }
}

// WithMaxRetries is shorthand for reconfiguring just the retry count on
// the default exponential-jitter policy.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.retryPolicy = NewExponentialRetryPolicy(n, 100*time.Millisecond, 10*time.Second, 2.0, 0.2, nil)
	}
}

// WithRetryBudget caps the retry rate via a sliding-window RetryBudget.
func WithRetryBudget(budget *RetryBudget) Option {
	return func(c *config) { c.retryBudget = budget }
}

// WithCircuitBreaker enables circuit breaking for every request handled
// by this Orchestrator.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *config) { c.circuitBreaker = cb }
}

// WithRateLimiter enables per-host rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *config) { c.rateLimiter = rl }
}

// WithCache enables the response cache using HTTPCachePolicy with the
// given default freshness window.
func WithCache(defaultFreshFor time.Duration) Option {
	return func(c *config) {
		c.cacheEnabled = true
		c.cachePolicy = HTTPCachePolicy{DefaultFreshFor: defaultFreshFor, DefaultStaleWindow: defaultFreshFor}
	}
}

// WithCachePolicy enables the response cache using a custom CachePolicy.
func WithCachePolicy(policy CachePolicy) Option {
	return func(c *config) {
		c.cacheEnabled = true
		c.cachePolicy = policy
	}
}

// WithCacheShards tunes the cache store's shard count and per-shard
// item cap.
func WithCacheShards(shardCount, maxItemsPerShard int) Option {
	return func(c *config) {
		c.cacheShardCount = shardCount
		c.cacheMaxPerShard = maxItemsPerShard
	}
}

// WithValidateStatus overrides DefaultValidateStatus.
func WithValidateStatus(f ValidateStatus) Option {
	return func(c *config) { c.validateStatus = f }
}

// WithLogger sets the Logger used for internal diagnostics.
func WithLogger(l Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithDebug stores d on the Orchestrator's configuration. No code path
// reads it, so it does not change what is logged.
func WithDebug(d DebugConfig) Option {
	return func(c *config) { c.debugConfig = d }
}

// WithMetrics enables Prometheus metrics registered against the default
// registry.
func WithMetrics() Option {
	return func(c *config) { c.metrics = NewMetrics(prometheus.DefaultRegisterer) }
}

// WithMetricsRegistry enables Prometheus metrics registered against reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(c *config) { c.metrics = NewMetrics(reg) }
}

// WithRequestInterceptor registers a RequestInterceptor with the given
// ordering weight (higher runs first).
func WithRequestInterceptor(weight int, i RequestInterceptor) Option {
	return func(c *config) { c.interceptors.addRequest(weight, i) }
}

// WithResponseInterceptor registers a ResponseInterceptor with the
// given ordering weight (lower runs first).
func WithResponseInterceptor(weight int, i ResponseInterceptor) Option {
	return func(c *config) { c.interceptors.addResponse(weight, i) }
}

// WithErrorInterceptor registers an ErrorInterceptor. Error
// interceptors run in reverse registration order.
func WithErrorInterceptor(i ErrorInterceptor) Option {
	return func(c *config) { c.interceptors.addError(0, i) }
}

// WithDefaultTimeout sets the per-request timeout applied when a
// Request does not specify its own Timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *config) { c.defaultTimeout = d }
}
