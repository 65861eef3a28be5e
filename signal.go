package reqorch

import (
	"context"
	"reflect"
	"sync"
)

// Signal is the orchestrator's realization of the spec's abort signal:
// a cancellable context plus the reason passed to the first Abort call.
// Its cause (context.Cause) distinguishes a caller cancellation from a
// per-request deadline; it does not record a separate source field.
type Signal struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	reason string
}

// newSignal derives a Signal from parent, additionally canceled for
// reason when Abort is called.
func newSignal(parent context.Context) *Signal {
	ctx, cancel := context.WithCancelCause(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Abort cancels the signal with a human-readable reason (e.g.
// "circuit_open", "timeout", "caller_canceled").
func (s *Signal) Abort(reason string, cause error) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
	s.cancel(cause)
}

// Reason returns the recorded abort reason, or "" if not yet aborted.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done, Err and Context expose the underlying context for use in
// blocking calls (adapter execution, queue acquisition, retry sleeps).
func (s *Signal) Done() <-chan struct{} { return s.ctx.Done() }
func (s *Signal) Err() error            { return context.Cause(s.ctx) }
func (s *Signal) Context() context.Context {
	return s.ctx
}

// composeSignals returns a context that is canceled as soon as any of
// the given contexts is canceled, with context.Cause reporting whichever
// one fired first. Stdlib context has no native any-of-N combinator, so
// this runs one fan-in goroutine per composition; the returned stop
// function must be called to release it once the caller no longer needs
// the composed context (normally via defer immediately after creation).
func composeSignals(parent context.Context, others ...context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(parent)

	live := make([]context.Context, 0, len(others))
	for _, o := range others {
		if o != nil {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	go func() {
		cases := make([]<-chan struct{}, len(live))
		for i, o := range live {
			cases[i] = o.Done()
		}
		idx, firedCause := waitAny(cases, live, done)
		if idx >= 0 {
			cancel(firedCause)
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			cancel(nil)
		})
	}
	return ctx, stop
}

// waitAny blocks until one of chans fires or stop is closed, returning
// the index that fired (or -1 on stop) and the context.Cause of the
// corresponding source context.
func waitAny(chans []<-chan struct{}, srcs []context.Context, stop <-chan struct{}) (int, error) {
	// A select over a dynamic slice requires reflection in the general
	// case; for up to three sources a manual unroll avoids the
	// reflect.Select overhead.
	switch len(chans) {
	case 1:
		select {
		case <-chans[0]:
			return 0, context.Cause(srcs[0])
		case <-stop:
			return -1, nil
		}
	case 2:
		select {
		case <-chans[0]:
			return 0, context.Cause(srcs[0])
		case <-chans[1]:
			return 1, context.Cause(srcs[1])
		case <-stop:
			return -1, nil
		}
	case 3:
		select {
		case <-chans[0]:
			return 0, context.Cause(srcs[0])
		case <-chans[1]:
			return 1, context.Cause(srcs[1])
		case <-chans[2]:
			return 2, context.Cause(srcs[2])
		case <-stop:
			return -1, nil
		}
	default:
		return waitAnyReflect(chans, srcs, stop)
	}
}

// waitAnyReflect handles the uncommon case of more than three fan-in
// sources via reflect.Select, so composeSignals stays correct (if
// slightly slower) no matter how many contexts are combined.
func waitAnyReflect(chans []<-chan struct{}, srcs []context.Context, stop <-chan struct{}) (int, error) {
	cases := make([]reflect.SelectCase, 0, len(chans)+1)
	for _, c := range chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)})

	chosen, _, _ := reflect.Select(cases)
	if chosen == len(chans) {
		return -1, nil
	}
	return chosen, context.Cause(srcs[chosen])
}
