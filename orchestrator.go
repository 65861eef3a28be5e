package reqorch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// requestState names a stage in a logical request's lifecycle. Every
// request transitions through these in order, except that cache-probing
// is skipped when caching is disabled, a request the cache answers goes
// from cache-probing straight to terminal, and retry-waiting only occurs
// between failed attempts.
type requestState int

const (
	statePreparing requestState = iota
	stateCacheProbing
	stateQueued
	stateExecuting
	stateClassifying
	stateRetryWaiting
	stateTerminal
)

// Orchestrator executes Requests against a configured Adapter, adding
// queueing, retries, circuit breaking, rate limiting, caching,
// interceptors, metrics and events. It is safe for concurrent use; a
// single Orchestrator is meant to be constructed once per logical
// upstream and reused for the lifetime of a process or long-lived
// component.
type Orchestrator struct {
	cfg *config

	queue   *queue
	cache   *ResponseCache
	pending *pendingRegistry
	bus     *EventBus

	stopMetrics chan struct{}
	metricsWG   sync.WaitGroup
}

// New constructs an Orchestrator. It panics if no Adapter is configured,
// since there is no sane default transport to fall back to (unlike,
// say, http.DefaultClient, which silently hides misconfiguration).
func New(opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.adapter == nil {
		panic("reqorch: New requires WithAdapter")
	}

	o := &Orchestrator{
		cfg:     cfg,
		queue:   newQueue(cfg.concurrentRequests),
		pending: newPendingRegistry(),
		bus:     NewEventBus(cfg.logger),
	}
	if cfg.cacheEnabled {
		o.cache = NewResponseCache(cfg.cachePolicy, cfg.cacheShardCount, cfg.cacheMaxPerShard, o.bus, cfg.logger)
	}
	if cfg.metrics != nil {
		o.stopMetrics = make(chan struct{})
		o.metricsWG.Add(1)
		go o.runMetricsCollector()
	}
	return o
}

// runMetricsCollector publishes metrics:collect on a 30-second interval
// for as long as Prometheus metrics are enabled, stopping when Close is
// called. Grounded on the teacher's gauge-reporting style in metrics.go,
// extended here to also notify event-bus observers rather than only
// updating collectors a /metrics scrape would pull.
func (o *Orchestrator) runMetricsCollector() {
	defer o.metricsWG.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.cfg.metrics.setQueueDepth(o.queue.snapshot().Pending)
			o.publish(lifecycleEvent{Type: EventMetricsCollect, Timestamp: time.Now()})
		case <-o.stopMetrics:
			return
		}
	}
}

// Events returns the Orchestrator's EventBus for subscribing to
// lifecycle notifications.
func (o *Orchestrator) Events() *EventBus { return o.bus }

// InvalidateCache removes the cache entry for req's key, if caching is
// enabled. It is a no-op otherwise.
func (o *Orchestrator) InvalidateCache(req *Request) {
	if o.cache != nil {
		o.cache.Invalidate(req)
	}
}

// ClearCache removes every cached entry, if caching is enabled. It is a
// no-op otherwise.
func (o *Orchestrator) ClearCache() {
	if o.cache != nil {
		o.cache.Clear()
	}
}

// Get issues a GET request.
func (o *Orchestrator) Get(ctx context.Context, url string) (*Response, error) {
	return o.Do(ctx, &Request{Method: MethodGet, URL: url})
}

// Post issues a POST request with body.
func (o *Orchestrator) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	return o.Do(ctx, &Request{Method: MethodPost, URL: url, Body: body})
}

// Put issues a PUT request with body.
func (o *Orchestrator) Put(ctx context.Context, url string, body []byte) (*Response, error) {
	return o.Do(ctx, &Request{Method: MethodPut, URL: url, Body: body})
}

// Patch issues a PATCH request with body.
func (o *Orchestrator) Patch(ctx context.Context, url string, body []byte) (*Response, error) {
	return o.Do(ctx, &Request{Method: MethodPatch, URL: url, Body: body})
}

// Delete issues a DELETE request.
func (o *Orchestrator) Delete(ctx context.Context, url string) (*Response, error) {
	return o.Do(ctx, &Request{Method: MethodDelete, URL: url})
}

// Do submits req and blocks until it reaches a terminal state: a
// Response, or an error classified by ErrorKind. req.ID is assigned if
// unset.
func (o *Orchestrator) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.URL == "" {
		return nil, newValidationError("request URL is empty")
	}
	if req.ID == "" {
		req.ID = newRequestID()
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = o.cfg.defaultTimeout
	}

	rec := &pendingRecord{
		req:       req,
		startedAt: time.Now(),
	}
	o.pending.add(rec)
	defer o.pending.remove(req.ID)

	var timeoutCtx context.Context = ctx
	var cancelTimeout context.CancelFunc = func() {}
	if timeout > 0 {
		timeoutCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
	}
	defer cancelTimeout()

	sig := newSignal(timeoutCtx)
	rec.signal = sig

	resp, err := o.run(sig, rec)

	o.finalizeEvents(rec, resp, err)

	outcomeLabel := "success"
	if err != nil {
		outcomeLabel = "error"
	}
	o.cfg.metrics.observeRequest(outcomeLabel, time.Since(rec.startedAt))

	return resp, err
}

// Cancel aborts an in-flight request by ID. It is idempotent: the first
// call against a given id aborts the request and returns true; every
// later call against the same id (while it is still pending, or after
// it has finished) returns false without side effects.
func (o *Orchestrator) Cancel(id string) bool {
	rec, ok := o.pending.get(id)
	if !ok {
		return false
	}
	if !rec.canceledEmitted.CompareAndSwap(false, true) {
		return false
	}

	rec.abortedBy.Store("user")
	rec.signal.Abort("caller_canceled", context.Canceled)

	// If the request has not yet reached Executing (e.g. still waiting
	// on a queue slot), request:start will never fire for it, so the
	// canceled/end pair has to be published here instead of from the
	// request's own terminal classification.
	if !rec.startEmitted.Load() {
		o.finalizeEvents(rec, nil, newCanceledError(id, 0, context.Canceled))
	}
	return true
}

// Close waits for any in-flight background cache revalidations to
// finish, then stops admission to the concurrency queue and stops the
// periodic metrics:collect emitter. Requests already admitted into
// execution are unaffected; requests still waiting for a queue slot
// fail immediately with KindQueueClosed. Close is meant to be called
// during graceful shutdown after the caller has stopped issuing new
// requests.
func (o *Orchestrator) Close() {
	if o.cache != nil {
		o.cache.Wait()
	}

	o.queue.Close("orchestrator closed")
	o.publish(lifecycleEvent{Type: EventQueueClosed, Timestamp: time.Now()})

	if o.stopMetrics != nil {
		close(o.stopMetrics)
		o.metricsWG.Wait()
	}
}

// DrainQueue evicts every request currently waiting for a queue slot
// with KindAbortedWhileWaiting, without closing the queue to new
// admissions. Useful for shedding a backlog built up during a
// downstream outage once the caller detects it, while continuing to
// accept new requests.
func (o *Orchestrator) DrainQueue(reason string) {
	o.queue.Clear(reason)
}

// QueueStats subscribes to queue occupancy snapshots; see queue.Stats.
func (o *Orchestrator) QueueStats() (stats <-chan QueueStats, unsubscribe func()) {
	return o.queue.Stats()
}

func (o *Orchestrator) publish(evt lifecycleEvent) {
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// finalizeEvents publishes the single terminal event appropriate to
// (resp, err) followed by end, exactly once per pendingRecord: the CAS
// on terminalSent means it is safe to call this both from Cancel's
// immediate cancellation path and from Do's own completion path without
// risking a duplicate pair. Per the decision to keep connection:error
// distinct from response:error (see DESIGN.md), a KindNetwork failure
// publishes both.
func (o *Orchestrator) finalizeEvents(rec *pendingRecord, resp *Response, err error) {
	if !rec.terminalSent.CompareAndSwap(false, true) {
		return
	}

	req := rec.req
	now := time.Now()
	duration := time.Since(rec.startedAt)

	var rerr *Error
	switch {
	case err == nil:
		o.publish(lifecycleEvent{Type: EventResponseSuccess, RequestID: req.ID, Timestamp: now, Duration: duration})

	case extractError(err, &rerr) && rerr.Kind == KindCanceled:
		if rec.abortedBy.Load() == nil {
			rec.abortedBy.Store("external")
		}
		o.publish(lifecycleEvent{Type: EventRequestCanceled, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})

	case extractError(err, &rerr) && rerr.Kind == KindTimeout:
		rec.abortedBy.Store("timeout")
		o.publish(lifecycleEvent{Type: EventTimeout, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})
		o.publish(lifecycleEvent{Type: EventResponseError, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})

	case extractError(err, &rerr) && rerr.Kind == KindNetwork:
		o.publish(lifecycleEvent{Type: EventConnectionError, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})
		o.publish(lifecycleEvent{Type: EventResponseError, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})

	default:
		o.publish(lifecycleEvent{Type: EventResponseError, RequestID: req.ID, Timestamp: now, Err: err, Duration: duration})
	}

	o.publish(lifecycleEvent{Type: EventEnd, RequestID: req.ID, Timestamp: now, Duration: duration})
}

// run drives req through the full state machine: cache probe, queue
// admission, execution with retries, and classification, returning the
// terminal Response or error.
func (o *Orchestrator) run(sig *Signal, rec *pendingRecord) (*Response, error) {
	rec.state = statePreparing
	req := rec.req

	preparedReq, err := o.cfg.interceptors.runRequest(sig.Context(), req)
	if err != nil {
		return nil, o.finalizeError(sig, rec, err)
	}
	req = preparedReq
	rec.req = req

	if o.cache != nil && !req.SkipCache {
		rec.state = stateCacheProbing
		if resp, handled, err := o.probeCache(sig, rec); handled {
			rec.state = stateTerminal
			return resp, err
		}
	}

	resp, err := o.executeWithRetry(sig, rec)
	rec.state = stateTerminal
	return resp, err
}

// probeCache checks the cache for req. handled is true when the cache
// answered the request: a fresh hit, a stale hit that was synchronously
// revalidated (RevalidateIfStale), or a stale hit served immediately
// with revalidation kicked off in the background. handled is false only
// on a miss, when the caller must fall through to normal queued
// execution.
func (o *Orchestrator) probeCache(sig *Signal, rec *pendingRecord) (resp *Response, handled bool, err error) {
	req := rec.req
	entry, state := o.cache.Lookup(req)

	switch state {
	case cacheFresh:
		o.cfg.metrics.observeCache("hit")
		o.publish(lifecycleEvent{Type: EventCacheHit, RequestID: req.ID, CacheKey: cacheKeyFor(req), Timestamp: time.Now()})
		out := *entry.response
		out.FromCache = true
		return &out, true, nil

	case cacheStale:
		o.cfg.metrics.observeCache("stale")
		o.publish(lifecycleEvent{Type: EventCacheStale, RequestID: req.ID, CacheKey: cacheKeyFor(req), Timestamp: time.Now()})

		// Build a fresh Signal scoped to whatever ctx the caller passes
		// in, rather than reusing the outer request's sig: for a
		// background revalidation that ctx significantly outlives sig,
		// which is canceled as soon as the original Do call returns.
		do := func(ctx context.Context, r *Request) (*Response, error) {
			revalSig := newSignal(ctx)
			revalRec := &pendingRecord{req: r, signal: revalSig}
			// Background revalidation is not a user-visible request: it
			// never emits request:start or the terminal/end pair, only
			// runs through the queue/circuit-breaker/adapter pipeline.
			revalRec.startEmitted.Store(true)
			revalRec.terminalSent.Store(true)
			return o.executeOnce(revalSig, revalRec)
		}

		if req.RevalidateIfStale {
			resp, err := o.cache.Revalidate(sig.Context(), req, entry, do)
			return resp, true, o.wrapErr(sig, rec, err)
		}

		o.cache.RevalidateInBackground(req, entry, do)
		out := *entry.response
		out.FromCache = true
		out.Stale = true
		return &out, true, nil

	default: // cacheMiss
		o.cfg.metrics.observeCache("miss")
		o.publish(lifecycleEvent{Type: EventCacheMiss, RequestID: req.ID, CacheKey: cacheKeyFor(req), Timestamp: time.Now()})
		return nil, false, nil
	}
}

// executeWithRetry runs req through the queue/circuit-breaker/adapter
// pipeline, retrying per cfg.retryPolicy until it succeeds, exhausts
// retries, or the signal is aborted.
func (o *Orchestrator) executeWithRetry(sig *Signal, rec *pendingRecord) (*Response, error) {
	req := rec.req
	attempt := 0

	for {
		attempt++
		req.attempt = attempt
		rec.state = stateQueued

		resp, err := o.executeOnce(sig, rec)
		rec.state = stateClassifying
		if err == nil {
			if o.cfg.circuitBreaker != nil {
				o.cfg.circuitBreaker.RecordSuccess()
			}
			if o.cfg.retryBudget != nil {
				o.cfg.retryBudget.RecordAttempt(attempt > 1)
			}
			if o.cache != nil && !req.SkipCache {
				o.cache.Store(req, resp)
			}
			return resp, nil
		}

		if o.cfg.retryBudget != nil {
			o.cfg.retryBudget.RecordAttempt(attempt > 1)
		}

		var rerr *Error
		isErr := extractError(err, &rerr)
		if isErr && rerr.Kind == KindCircuitOpen {
			return nil, o.finalizeError(sig, rec, err)
		}

		retry := o.cfg.retryPolicy.ShouldRetry(attempt, err, resp)
		if retry && o.cfg.retryBudget != nil && !o.cfg.retryBudget.Allow() {
			retry = false
			err = newRetryBudgetExhaustedError(req.ID, attempt)
		}
		if !retry {
			if o.cfg.circuitBreaker != nil {
				o.cfg.circuitBreaker.RecordFailure()
			}
			if attempt > 1 {
				o.publish(lifecycleEvent{Type: EventRetryFailed, RequestID: req.ID, Attempt: attempt, Timestamp: time.Now(), Err: err})
			}
			return nil, o.finalizeError(sig, rec, err)
		}

		wait := o.cfg.retryPolicy.Backoff(attempt)
		if resp != nil {
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
		}

		o.cfg.metrics.observeRetry(retryReason(err))
		o.publish(lifecycleEvent{Type: EventRetryAttempt, RequestID: req.ID, Attempt: attempt, Duration: wait, Timestamp: time.Now(), Err: err})

		rec.state = stateRetryWaiting
		select {
		case <-time.After(wait):
		case <-sig.Done():
			return nil, o.finalizeError(sig, rec, classifySignalErr(sig, req.ID, attempt))
		}
	}
}

func retryReason(err error) string {
	var e *Error
	if extractError(err, &e) {
		return e.Kind.String()
	}
	return "unknown"
}

// executeOnce runs a single attempt: circuit breaker check, rate limit,
// queue admission, adapter call, response interceptors, status
// validation.
func (o *Orchestrator) executeOnce(sig *Signal, rec *pendingRecord) (*Response, error) {
	req := rec.req

	if o.cfg.circuitBreaker != nil && !o.cfg.circuitBreaker.Allow() {
		o.publish(lifecycleEvent{Type: EventCircuitOpen, RequestID: req.ID, Timestamp: time.Now()})
		return nil, newCircuitOpenError(req.ID)
	}

	if o.cfg.rateLimiter != nil {
		start := time.Now()
		if err := o.cfg.rateLimiter.Wait(sig.Context(), req); err != nil {
			return nil, classifySignalErr(sig, req.ID, req.attempt)
		}
		o.cfg.metrics.observeRateLimitWait(time.Since(start))
	}

	release, err := o.acquireQueueSlot(sig, req)
	if err != nil {
		return nil, err
	}
	defer release()

	rec.state = stateExecuting
	if rec.startEmitted.CompareAndSwap(false, true) {
		o.publish(lifecycleEvent{Type: EventRequestStart, RequestID: req.ID, Timestamp: time.Now()})
	}

	callStart := time.Now()
	resp, err := o.cfg.adapter.Do(sig.Context(), req)
	if err != nil {
		if sig.Err() != nil {
			return nil, classifySignalErr(sig, req.ID, req.attempt)
		}
		return nil, err
	}
	resp.Duration = time.Since(callStart)
	resp.Attempts = req.attempt

	resp, err = o.cfg.interceptors.runResponse(sig.Context(), resp)
	if err != nil {
		return nil, err
	}

	if !o.cfg.validateStatus(resp.StatusCode) {
		return resp, newStatusError(req.ID, req.attempt, resp.StatusCode)
	}
	return resp, nil
}

func (o *Orchestrator) acquireQueueSlot(sig *Signal, req *Request) (release func(), err error) {
	if o.cfg.queueTimeout <= 0 {
		release, err = o.queue.acquire(sig.Context())
	} else {
		ctx, cancel := context.WithTimeout(sig.Context(), o.cfg.queueTimeout)
		defer cancel()
		release, err = o.queue.acquire(ctx)
	}
	if err != nil {
		o.publish(lifecycleEvent{Type: EventQueueRejected, RequestID: req.ID, Timestamp: time.Now()})
		switch {
		case errors.Is(err, errQueueClosed):
			return nil, newQueueClosedError(req.ID, err.Error())
		case errors.Is(err, errQueueAborted):
			return nil, newAbortedWhileWaitingError(req.ID, req.attempt, err)
		case sig.Err() != nil:
			return nil, classifySignalErr(sig, req.ID, req.attempt)
		default:
			return nil, newQueueFullError(req.ID)
		}
	}
	o.publish(lifecycleEvent{Type: EventQueueAdmitted, RequestID: req.ID, Timestamp: time.Now()})
	return release, nil
}

// finalizeError runs error interceptors and translates the result into
// a terminal *Error for the caller.
func (o *Orchestrator) finalizeError(sig *Signal, rec *pendingRecord, err error) error {
	return o.wrapErr(sig, rec, err)
}

func (o *Orchestrator) wrapErr(sig *Signal, rec *pendingRecord, err error) error {
	if err == nil {
		return nil
	}
	return o.cfg.interceptors.runError(sig.Context(), rec.req, err)
}

func classifySignalErr(sig *Signal, reqID string, attempt int) error {
	cause := sig.Err()
	if cause == context.DeadlineExceeded {
		return newTimeoutError(reqID, attempt, cause)
	}
	return newCanceledError(reqID, attempt, cause)
}

// extractError is a small errors.As wrapper kept local to avoid an
// import cycle concern with the package's own *Error type.
func extractError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
