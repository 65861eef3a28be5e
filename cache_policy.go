package reqorch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CachePolicy decides, for a given Response, how long it may be served
// fresh and how much longer it may be served stale (during background
// revalidation) afterward. The default, HTTPCachePolicy, derives both
// from standard caching headers; FixedTTLPolicy ignores headers
// entirely in favor of a single configured TTL.
type CachePolicy interface {
	// Freshness returns (freshFor, staleFor) durations measured from
	// the time the response was received. ok is false when resp must
	// not be cached at all (e.g. Cache-Control: no-store).
	Freshness(resp *Response) (freshFor, staleFor time.Duration, ok bool)
}

// FixedTTLPolicy caches every response for a single fixed duration,
// ignoring any caching headers the server sent, with no stale-while-
// revalidate window.
type FixedTTLPolicy struct {
	TTL time.Duration
}

func (p FixedTTLPolicy) Freshness(resp *Response) (time.Duration, time.Duration, bool) {
	if p.TTL <= 0 {
		return 0, 0, false
	}
	return p.TTL, 0, true
}

// HTTPCachePolicy derives freshness from the response's Cache-Control
// and Expires headers, and a stale-while-revalidate window from
// Cache-Control's stale-while-revalidate directive (falling back to
// DefaultStaleWindow when absent), per RFC 9111 / RFC 5861.
type HTTPCachePolicy struct {
	// DefaultFreshFor is used when the response carries no freshness
	// directive at all (no max-age, no Expires).
	DefaultFreshFor time.Duration
	// DefaultStaleWindow is used when Cache-Control omits
	// stale-while-revalidate.
	DefaultStaleWindow time.Duration
	// RespectValidatorsOnly, when true, only caches responses that
	// carry an ETag or Last-Modified validator.
	RespectValidatorsOnly bool
}

func (p HTTPCachePolicy) Freshness(resp *Response) (time.Duration, time.Duration, bool) {
	if !DefaultValidateStatus(resp.StatusCode) && resp.StatusCode != http.StatusNotModified {
		return 0, 0, false
	}

	cc := parseCacheControl(resp.Header.Get("Cache-Control"))
	if cc.noStore {
		return 0, 0, false
	}
	if p.RespectValidatorsOnly && resp.Header.Get("ETag") == "" && resp.Header.Get("Last-Modified") == "" {
		return 0, 0, false
	}

	freshFor := p.DefaultFreshFor
	switch {
	case cc.hasMaxAge:
		freshFor = cc.maxAge
	case resp.Header.Get("Expires") != "":
		if t, err := http.ParseTime(resp.Header.Get("Expires")); err == nil {
			freshFor = time.Until(t)
		}
	}
	if cc.noCache {
		freshFor = 0
	}
	if freshFor < 0 {
		freshFor = 0
	}

	staleFor := p.DefaultStaleWindow
	if cc.hasStaleWhileRevalidate {
		staleFor = cc.staleWhileRevalidate
	}
	return freshFor, staleFor, true
}

type cacheControl struct {
	noStore                 bool
	noCache                 bool
	hasMaxAge               bool
	maxAge                  time.Duration
	hasStaleWhileRevalidate bool
	staleWhileRevalidate    time.Duration
}

func parseCacheControl(header string) cacheControl {
	var cc cacheControl
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, value, _ := strings.Cut(directive, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch name {
		case "no-store":
			cc.noStore = true
		case "no-cache":
			cc.noCache = true
		case "max-age":
			if secs, err := strconv.Atoi(value); err == nil {
				cc.hasMaxAge = true
				cc.maxAge = time.Duration(secs) * time.Second
			}
		case "stale-while-revalidate":
			if secs, err := strconv.Atoi(value); err == nil {
				cc.hasStaleWhileRevalidate = true
				cc.staleWhileRevalidate = time.Duration(secs) * time.Second
			}
		}
	}
	return cc
}
