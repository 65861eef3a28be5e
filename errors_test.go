package reqorch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	cause := errors.New("boom")
	e1 := newNetworkError("req-1", 1, cause)
	e2 := &Error{Kind: KindNetwork}

	assert.True(t, e1.Is(e2))
	assert.True(t, errors.Is(e1, e2))

	e3 := &Error{Kind: KindTimeout}
	assert.False(t, e1.Is(e3))
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := newNetworkError("req-2", 3, cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorDebugInfoExcludesMessage(t *testing.T) {
	err := newStatusError("req-3", 2, 503)
	info := err.DebugInfo()

	assert.Equal(t, "status", info["kind"])
	assert.Equal(t, "req-3", info["request_id"])
	assert.Equal(t, 2, info["attempt"])
	assert.Equal(t, 503, info["status_code"])
	_, hasMessage := info["message"]
	assert.False(t, hasMessage)
}

func TestErrorKindStringCoversAllKinds(t *testing.T) {
	kinds := []ErrorKind{
		KindNetwork, KindTimeout, KindCanceled, KindStatus, KindCircuitOpen,
		KindRetryBudgetExhausted, KindQueueFull, KindValidation, KindInterceptor, KindInternal,
		KindQueueClosed, KindAbortedWhileWaiting,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String(), "kind %d should have a name", k)
	}
}

func TestNewQueueClosedErrorIncludesReason(t *testing.T) {
	err := newQueueClosedError("req-4", "orchestrator closed")
	assert.Equal(t, KindQueueClosed, err.Kind)
	assert.Contains(t, err.Message, "orchestrator closed")
	assert.Equal(t, "req-4", err.RequestID)

	bare := newQueueClosedError("req-5", "")
	assert.Equal(t, "queue is closed", bare.Message)
}

func TestNewAbortedWhileWaitingErrorWrapsCause(t *testing.T) {
	cause := errors.New("queue cleared")
	err := newAbortedWhileWaitingError("req-6", 2, cause)
	assert.Equal(t, KindAbortedWhileWaiting, err.Kind)
	assert.Equal(t, 2, err.Attempt)
	require.ErrorIs(t, err, cause)
}
