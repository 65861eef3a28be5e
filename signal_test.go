package reqorch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalAbortRecordsReason(t *testing.T) {
	sig := newSignal(context.Background())
	assert.Equal(t, "", sig.Reason())

	cause := errors.New("circuit tripped")
	sig.Abort("circuit_open", cause)

	assert.Equal(t, "circuit_open", sig.Reason())
	assert.ErrorIs(t, sig.Err(), cause)

	select {
	case <-sig.Done():
	default:
		t.Fatal("expected Done channel to be closed after Abort")
	}
}

func TestSignalAbortFirstReasonWins(t *testing.T) {
	sig := newSignal(context.Background())
	sig.Abort("first", errors.New("a"))
	sig.Abort("second", errors.New("b"))
	assert.Equal(t, "first", sig.Reason())
}

func TestComposeSignalsFiresOnAnySource(t *testing.T) {
	parent := context.Background()
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelA()
	defer cancelB()

	composed, stop := composeSignals(parent, ctxA, ctxB)
	defer stop()

	select {
	case <-composed.Done():
		t.Fatal("composed context should not be done yet")
	default:
	}

	cancelB()

	select {
	case <-composed.Done():
	case <-time.After(time.Second):
		t.Fatal("composed context should have been canceled when ctxB was canceled")
	}
}

func TestComposeSignalsWithNoOtherSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	composed, stop := composeSignals(ctx)
	defer stop()

	cancel()
	select {
	case <-composed.Done():
	case <-time.After(time.Second):
		t.Fatal("composed context should follow parent cancellation")
	}
}

func TestComposeSignalsManySourcesUsesReflectFallback(t *testing.T) {
	others := make([]context.Context, 5)
	cancels := make([]context.CancelFunc, 5)
	for i := range others {
		others[i], cancels[i] = context.WithCancel(context.Background())
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	composed, stop := composeSignals(context.Background(), others...)
	defer stop()

	cancels[3]()
	select {
	case <-composed.Done():
	case <-time.After(time.Second):
		t.Fatal("composed context should fire when any of >3 sources cancels")
	}
	require.Error(t, composed.Err())
}
