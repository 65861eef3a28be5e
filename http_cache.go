package reqorch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ambiyansyah-risyal/reqorch/internal/singleflight"
)

// cacheLookupState classifies what ResponseCache.Lookup found.
type cacheLookupState int

const (
	cacheMiss cacheLookupState = iota
	cacheFresh
	cacheStale
)

// revalidateFunc performs the actual network round-trip needed to
// revalidate or refresh a cache entry; the orchestrator supplies a
// single execution attempt (circuit breaker, rate limiter, queue,
// adapter, response interceptors, status validation). Request
// interceptors and retries are not applied to revalidations.
type revalidateFunc func(ctx context.Context, req *Request) (*Response, error)

// ResponseCache layers HTTP caching semantics (conditional requests,
// ETag/Last-Modified validators, stale-while-revalidate) on top of the
// plain key/value cacheStore.
type ResponseCache struct {
	store  *cacheStore
	policy CachePolicy
	sf     *singleflight.Group
	bus    *EventBus
	logger Logger
	debug  bool

	// group supervises background revalidation goroutines so Wait can
	// block until they finish, without letting one slow revalidation
	// block another. Each goroutine logs its own failure and returns
	// nil, so Wait only blocks and reports no error.
	group *errgroup.Group
}

// NewResponseCache constructs a ResponseCache. bus/logger may be nil.
func NewResponseCache(policy CachePolicy, shardCount, maxItemsPerShard int, bus *EventBus, logger Logger) *ResponseCache {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ResponseCache{
		store:  newCacheStore(shardCount, maxItemsPerShard),
		policy: policy,
		sf:     singleflight.New(),
		bus:    bus,
		logger: logger,
		group:  &errgroup.Group{},
	}
}

func cacheKeyFor(req *Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	return string(req.Method) + " " + req.URL
}

// Lookup reports the cache state for req and, for cacheFresh/cacheStale,
// the entry itself.
func (c *ResponseCache) Lookup(req *Request) (*cacheEntry, cacheLookupState) {
	entry, ok := c.store.get(cacheKeyFor(req))
	if !ok {
		return nil, cacheMiss
	}
	now := time.Now()
	if entry.isFresh(now) {
		return entry, cacheFresh
	}
	if entry.isUsableStale(now) {
		return entry, cacheStale
	}
	return nil, cacheMiss
}

// Store saves resp under req's cache key if policy permits, recording
// its validators for future conditional requests.
func (c *ResponseCache) Store(req *Request, resp *Response) {
	freshFor, staleFor, ok := c.policy.Freshness(resp)
	if !ok {
		return
	}
	now := time.Now()
	entry := &cacheEntry{
		key:          cacheKeyFor(req),
		response:     resp,
		storedAt:     now,
		freshUntil:   now.Add(freshFor),
		staleUntil:   now.Add(freshFor + staleFor),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	c.store.set(entry)
	if c.bus != nil {
		c.bus.Publish(lifecycleEvent{Type: EventCacheSet, CacheKey: entry.key, Timestamp: now})
	}
}

// Invalidate removes req's cache entry, e.g. after a mutating request
// to the same resource.
func (c *ResponseCache) Invalidate(req *Request) {
	key := cacheKeyFor(req)
	c.store.delete(key)
	if c.bus != nil {
		c.bus.Publish(lifecycleEvent{Type: EventCacheInvalidated, CacheKey: key, Timestamp: time.Now()})
	}
}

// Clear removes every cached entry across all shards, e.g. for a
// caller-initiated ClearCache call.
func (c *ResponseCache) Clear() {
	c.store.clear()
	if c.bus != nil {
		c.bus.Publish(lifecycleEvent{Type: EventCacheClear, Timestamp: time.Now()})
	}
}

// conditionalRequest returns a copy of req with If-None-Match / If-
// Modified-Since headers added from entry's validators, for
// revalidation round-trips.
func conditionalRequest(req *Request, entry *cacheEntry) *Request {
	clone := *req
	header := req.Header.Clone()
	if header == nil {
		header = make(map[string][]string)
	}
	if entry.etag != "" {
		header.Set("If-None-Match", entry.etag)
	}
	if entry.lastModified != "" {
		header.Set("If-Modified-Since", entry.lastModified)
	}
	clone.Header = header
	return &clone
}

// Revalidate performs a synchronous conditional request for entry and
// returns the response to serve: on 304 Not Modified it refreshes the
// entry's freshness window and returns the cached body; otherwise it
// stores and returns the new response.
func (c *ResponseCache) Revalidate(ctx context.Context, req *Request, entry *cacheEntry, do revalidateFunc) (*Response, error) {
	condReq := conditionalRequest(req, entry)
	resp, err := do(ctx, condReq)
	if resp != nil && resp.StatusCode == 304 {
		freshFor, staleFor, ok := c.policy.Freshness(&Response{StatusCode: 200, Header: resp.Header})
		if ok {
			now := time.Now()
			entry.freshUntil = now.Add(freshFor)
			entry.staleUntil = now.Add(freshFor + staleFor)
			c.store.set(entry)
		}
		refreshed := *entry.response
		refreshed.FromCache = true
		refreshed.Stale = false
		return &refreshed, nil
	}
	if err != nil {
		return nil, err
	}
	c.Store(req, resp)
	return resp, nil
}

// RevalidateInBackground kicks off an asynchronous revalidation for
// entry, deduplicated by cache key via singleflight so concurrent
// requests for the same stale entry trigger exactly one upstream call.
// The caller gets the stale entry back immediately and does not wait
// for this to complete.
func (c *ResponseCache) RevalidateInBackground(req *Request, entry *cacheEntry, do revalidateFunc) {
	key := cacheKeyFor(req)
	c.group.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err, _ := c.sf.TryDo(key, func() (interface{}, error) {
			resp, err := c.Revalidate(ctx, req, entry, do)
			return resp, err
		})
		if err != nil && err != singleflight.ErrInProgress {
			c.logger.Warn("background cache revalidation failed", "cache_key", key, "error", err.Error())
		}
		if c.bus != nil {
			c.bus.Publish(lifecycleEvent{Type: EventCacheRevalidate, CacheKey: key, Timestamp: time.Now(), Err: err})
		}
		return nil
	})
}

// Wait blocks until every in-flight background revalidation started via
// RevalidateInBackground has finished. Orchestrator.Close calls this so
// shutdown doesn't orphan goroutines.
func (c *ResponseCache) Wait() {
	_ = c.group.Wait()
}

// Len returns the number of entries currently cached, across all
// shards.
func (c *ResponseCache) Len() int {
	return c.store.len()
}
