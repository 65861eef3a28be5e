package reqorch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an *Error into a closed set of categories so
// callers can branch on kind instead of parsing messages.
type ErrorKind int

// Error kinds.
const (
	// KindNetwork covers transport-level failures: DNS, connection
	// refused, TLS handshake, connection reset.
	KindNetwork ErrorKind = iota
	// KindTimeout covers context deadline exceeded and per-request
	// timeouts, at the queue, adapter, or retry-wait stage.
	KindTimeout
	// KindCanceled covers caller-initiated cancellation via context or
	// Signal.Abort.
	KindCanceled
	// KindStatus covers a response whose status code failed
	// ValidateStatus.
	KindStatus
	// KindCircuitOpen is returned when the circuit breaker rejects a
	// request without attempting it.
	KindCircuitOpen
	// KindRetryBudgetExhausted is returned when the retry budget's
	// sliding window has no capacity left for another retry.
	KindRetryBudgetExhausted
	// KindQueueFull is returned when a request's wait for a concurrency
	// slot exceeds the configured queue timeout.
	KindQueueFull
	// KindValidation covers malformed input supplied by the caller
	// (bad URL, nil adapter, invalid option).
	KindValidation
	// KindInterceptor covers a request/response interceptor returning
	// an error or panicking.
	KindInterceptor
	// KindInternal covers invariant violations that should not be
	// reachable through normal use.
	KindInternal
	// KindQueueClosed is returned when a request is rejected because the
	// concurrency queue has been closed via queue.Close.
	KindQueueClosed
	// KindAbortedWhileWaiting is returned when a request waiting for a
	// queue slot is evicted by queue.Clear rather than by its own
	// context being canceled.
	KindAbortedWhileWaiting
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindStatus:
		return "status"
	case KindCircuitOpen:
		return "circuit_open"
	case KindRetryBudgetExhausted:
		return "retry_budget_exhausted"
	case KindQueueFull:
		return "queue_full"
	case KindValidation:
		return "validation"
	case KindInterceptor:
		return "interceptor"
	case KindInternal:
		return "internal"
	case KindQueueClosed:
		return "queue_closed"
	case KindAbortedWhileWaiting:
		return "aborted_while_waiting"
	default:
		return "unknown"
	}
}

// Error is the sole error type returned by Orchestrator operations. Every
// failure path constructs one of these via the kind-specific
// constructors below, so callers can reliably use errors.Is/As and
// Error.Is against a sentinel kind.
type Error struct {
	Kind       ErrorKind
	Message    string
	RequestID  string
	Attempt    int
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reqorch: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("reqorch: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, &Error{Kind: KindTimeout}) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// DebugInfo returns a map of diagnostic fields suitable for structured
// logging, deliberately excluding Message/Cause which already appear in
// Error().
func (e *Error) DebugInfo() map[string]any {
	return map[string]any{
		"kind":        e.Kind.String(),
		"request_id":  e.RequestID,
		"attempt":     e.Attempt,
		"status_code": e.StatusCode,
	}
}

func newNetworkError(reqID string, attempt int, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "transport error", RequestID: reqID, Attempt: attempt, Cause: cause}
}

func newTimeoutError(reqID string, attempt int, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "deadline exceeded", RequestID: reqID, Attempt: attempt, Cause: cause}
}

func newCanceledError(reqID string, attempt int, cause error) *Error {
	return &Error{Kind: KindCanceled, Message: "request canceled", RequestID: reqID, Attempt: attempt, Cause: cause}
}

func newStatusError(reqID string, attempt, statusCode int) *Error {
	return &Error{Kind: KindStatus, Message: fmt.Sprintf("unacceptable status code %d", statusCode), RequestID: reqID, Attempt: attempt, StatusCode: statusCode}
}

func newCircuitOpenError(reqID string) *Error {
	return &Error{Kind: KindCircuitOpen, Message: "circuit breaker is open", RequestID: reqID}
}

func newRetryBudgetExhaustedError(reqID string, attempt int) *Error {
	return &Error{Kind: KindRetryBudgetExhausted, Message: "retry budget exhausted", RequestID: reqID, Attempt: attempt}
}

func newQueueFullError(reqID string) *Error {
	return &Error{Kind: KindQueueFull, Message: "concurrency queue is full", RequestID: reqID}
}

func newValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func newInterceptorError(reqID string, cause error) *Error {
	return &Error{Kind: KindInterceptor, Message: "interceptor failed", RequestID: reqID, Cause: cause}
}

func newInternalError(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func newQueueClosedError(reqID, reason string) *Error {
	msg := "queue is closed"
	if reason != "" {
		msg = fmt.Sprintf("queue is closed: %s", reason)
	}
	return &Error{Kind: KindQueueClosed, Message: msg, RequestID: reqID}
}

func newAbortedWhileWaitingError(reqID string, attempt int, cause error) *Error {
	return &Error{Kind: KindAbortedWhileWaiting, Message: "aborted while waiting for a queue slot", RequestID: reqID, Attempt: attempt, Cause: cause}
}
