package reqorch

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outgoing requests, scoped per destination host so
// one slow or rate-limited API doesn't starve the token budget of
// another.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
	keyFunc   func(req *Request) string
}

// NewRateLimiter builds a RateLimiter allowing rps requests/sec with the
// given burst, keyed by request host by default.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFunc:  hostKey,
	}
}

func hostKey(req *Request) string {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return "*"
	}
	return u.Host
}

// Wait blocks until a token is available for req's host or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, req *Request) error {
	return r.limiterFor(req).Wait(ctx)
}

// Allow reports whether a token is immediately available for req's host,
// consuming it if so, without blocking.
func (r *RateLimiter) Allow(req *Request) bool {
	return r.limiterFor(req).Allow()
}

func (r *RateLimiter) limiterFor(req *Request) *rate.Limiter {
	key := r.keyFunc(req)
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[key] = l
	}
	return l
}
