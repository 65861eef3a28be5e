package reqorch

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/reqorch/internal/backoff"
)

// RetryPolicy decides whether and how long to wait between retry
// attempts of a failed request.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (1-based, the attempt that
	// just failed) should be retried given err/resp.
	ShouldRetry(attempt int, err error, resp *Response) bool
	// Backoff returns how long to wait before attempt+1.
	Backoff(attempt int) time.Duration
}

// retryConfig holds the tunables a RetryPolicy implementation needs;
// DefaultRetryPolicy is constructed from one.
type retryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         float64
	retryable      RetryableFunc
}

// DefaultRetryPolicy retries network errors and DefaultRetryableStatus
// codes using a configurable backoff.Strategy (exponential or
// decorrelated jitter), up to maxRetries retries after the first attempt.
type DefaultRetryPolicy struct {
	cfg        retryConfig
	calculator *backoff.Calculator
}

// NewExponentialRetryPolicy builds a RetryPolicy using exponential
// backoff with uniform jitter.
func NewExponentialRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, retryable RetryableFunc) *DefaultRetryPolicy {
	return newRetryPolicy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, retryable, backoff.ExponentialJitterStrategy{})
}

// NewDecorrelatedJitterRetryPolicy builds a RetryPolicy using AWS-style
// decorrelated jitter, which tends to produce smoother tail latencies
// than exponential-jitter under concurrent retry storms.
func NewDecorrelatedJitterRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, retryable RetryableFunc) *DefaultRetryPolicy {
	return newRetryPolicy(maxRetries, initialBackoff, maxBackoff, 0, 0, retryable, backoff.DecorrelatedJitterStrategy{})
}

func newRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, retryable RetryableFunc, strategy backoff.Strategy) *DefaultRetryPolicy {
	if retryable == nil {
		retryable = func(err error, resp *Response) bool {
			if resp != nil {
				return DefaultRetryableStatus(resp.StatusCode)
			}
			if err != nil {
				var e *Error
				if errors.As(err, &e) {
					return e.Kind == KindNetwork || e.Kind == KindTimeout
				}
				return true
			}
			return false
		}
	}
	return &DefaultRetryPolicy{
		cfg: retryConfig{
			maxRetries:     maxRetries,
			initialBackoff: initialBackoff,
			maxBackoff:     maxBackoff,
			multiplier:     multiplier,
			jitter:         jitter,
			retryable:      retryable,
		},
		calculator: backoff.NewCalculator(strategy),
	}
}

func (p *DefaultRetryPolicy) ShouldRetry(attempt int, err error, resp *Response) bool {
	if attempt > p.cfg.maxRetries {
		return false
	}
	return p.cfg.retryable(err, resp)
}

func (p *DefaultRetryPolicy) Backoff(attempt int) time.Duration {
	return p.calculator.Calculate(attempt, p.cfg.initialBackoff, p.cfg.maxBackoff, p.cfg.multiplier, p.cfg.jitter)
}

// retryAfter parses a Retry-After header (either delta-seconds or an
// HTTP-date) and, when present, overrides the policy-computed backoff:
// servers that tell us explicitly how long to wait take precedence over
// our own guess.
func retryAfter(headerValue string) (time.Duration, bool) {
	if headerValue == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(headerValue); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := time.Parse(time.RFC1123, headerValue); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RetryBudget caps the fraction of requests that may be retried within
// a sliding time window, protecting a struggling downstream from a
// retry amplification storm. It tracks total attempts and retry
// attempts in per-second buckets covering the window.
type RetryBudget struct {
	mu           sync.Mutex
	window       time.Duration
	minPerSecond float64
	retryRatio   float64
	buckets      map[int64]*budgetBucket
	now          func() time.Time
}

type budgetBucket struct {
	total   int
	retries int
}

// NewRetryBudget constructs a RetryBudget allowing retries up to
// retryRatio times the total request volume observed in window, with a
// floor of minPerSecond retries/sec always permitted so low-volume
// periods aren't starved entirely.
func NewRetryBudget(window time.Duration, retryRatio, minPerSecond float64) *RetryBudget {
	return &RetryBudget{
		window:       window,
		retryRatio:   retryRatio,
		minPerSecond: minPerSecond,
		buckets:      make(map[int64]*budgetBucket),
		now:          time.Now,
	}
}

// RecordAttempt registers one adapter call, isRetry indicating whether
// it was attempt > 1 for its logical request.
func (b *RetryBudget) RecordAttempt(isRetry bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()
	bucket := b.bucketLocked(b.now().Unix())
	bucket.total++
	if isRetry {
		bucket.retries++
	}
}

// Allow reports whether another retry attempt is currently permitted
// under the budget.
func (b *RetryBudget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()

	var total, retries int
	for _, bucket := range b.buckets {
		total += bucket.total
		retries += bucket.retries
	}
	windowSeconds := b.window.Seconds()
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	floor := b.minPerSecond * windowSeconds
	if float64(retries) < floor {
		return true
	}
	return float64(retries) < float64(total)*b.retryRatio
}

func (b *RetryBudget) bucketLocked(second int64) *budgetBucket {
	bucket, ok := b.buckets[second]
	if !ok {
		bucket = &budgetBucket{}
		b.buckets[second] = bucket
	}
	return bucket
}

func (b *RetryBudget) evictLocked() {
	cutoff := b.now().Add(-b.window).Unix()
	for sec := range b.buckets {
		if sec < cutoff {
			delete(b.buckets, sec)
		}
	}
}
