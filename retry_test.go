package reqorch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicyStopsAtMaxRetries(t *testing.T) {
	p := NewExponentialRetryPolicy(2, time.Millisecond, time.Second, 2.0, 0, nil)

	assert.True(t, p.ShouldRetry(1, nil, &Response{StatusCode: 503}))
	assert.True(t, p.ShouldRetry(2, nil, &Response{StatusCode: 503}))
	assert.False(t, p.ShouldRetry(3, nil, &Response{StatusCode: 503}))
}

func TestDefaultRetryPolicyDoesNotRetryClientErrors(t *testing.T) {
	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second, 2.0, 0, nil)
	assert.False(t, p.ShouldRetry(1, nil, &Response{StatusCode: 404}))
}

func TestExponentialBackoffGrowsWithAttempt(t *testing.T) {
	p := NewExponentialRetryPolicy(5, 10*time.Millisecond, time.Second, 2.0, 0, nil)

	d1 := p.Backoff(1)
	d2 := p.Backoff(2)
	d3 := p.Backoff(3)

	assert.True(t, d2 >= d1)
	assert.True(t, d3 >= d2)
	assert.True(t, d3 <= time.Second)
}

func TestDecorrelatedJitterRetryPolicyRespectsMax(t *testing.T) {
	p := NewDecorrelatedJitterRetryPolicy(5, 10*time.Millisecond, 100*time.Millisecond, nil)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Backoff(attempt)
		assert.True(t, d <= 100*time.Millisecond)
		assert.True(t, d >= 0)
	}
}

func TestRetryAfterParsesSeconds(t *testing.T) {
	d, ok := retryAfter("120")
	require.True(t, ok)
	assert.Equal(t, 120*time.Second, d)
}

func TestRetryAfterRejectsEmptyAndNegative(t *testing.T) {
	_, ok := retryAfter("")
	assert.False(t, ok)

	_, ok = retryAfter("-5")
	assert.False(t, ok)
}

func TestRetryAfterParsesHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	d, ok := retryAfter(future)
	require.True(t, ok)
	assert.True(t, d > 0 && d <= 91*time.Second)
}

func TestRetryBudgetAllowsWithinRatio(t *testing.T) {
	b := NewRetryBudget(time.Minute, 0.5, 0)
	for i := 0; i < 10; i++ {
		b.RecordAttempt(false)
	}
	assert.True(t, b.Allow())

	for i := 0; i < 10; i++ {
		b.RecordAttempt(true)
	}
	assert.False(t, b.Allow(), "retry ratio should be exhausted once retries reach half of all attempts")
}

func TestRetryBudgetFloorAllowsLowVolume(t *testing.T) {
	b := NewRetryBudget(time.Minute, 0.01, 10)
	assert.True(t, b.Allow(), "floor should permit retries even with zero recorded volume")
}
