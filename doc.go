// Package reqorch implements a client-side HTTP request orchestrator: a
// façade over a pluggable transport Adapter that adds
//
//   - a bounded concurrency queue with cancellable waiters
//   - retries with exponential/decorrelated backoff + jitter and a retry
//     budget
//   - a circuit breaker
//   - an in-memory response cache with conditional (ETag/Last-Modified)
//     revalidation and stale-while-revalidate
//   - an ordered interceptor pipeline (request/response/error hooks)
//   - a typed event bus for lifecycle observability
//   - Prometheus metrics and pluggable structured logging
//
// Design goals:
//   - a single state machine (Orchestrator) owns every logical request from
//     preparation through cache probe, queue admission, execution, outcome
//     classification, retry and finalization
//   - every suspension point (queue acquire, interceptor hook, adapter
//     call, retry sleep) is cancellable by a user context, a per-request
//     timeout, or an internal abort, with precise attribution of which one
//     fired
//   - zero global state; every Orchestrator owns its own queue, cache,
//     event bus and metrics
//
// Typical usage:
//
//	o := reqorch.New(
//	    reqorch.WithAdapter(reqorch.NewHTTPAdapter(nil)),
//	    reqorch.WithConcurrentRequests(10),
//	    reqorch.WithMaxRetries(3),
//	    reqorch.WithCache(5*time.Minute),
//	    reqorch.WithMetrics(),
//	)
//	resp, err := o.Get(ctx, "https://api.example.com/data")
//
// A non-2xx response (per ValidateStatus) is returned as an error, not as
// an in-band field on a successful response — see DESIGN.md for the
// rationale.
package reqorch
