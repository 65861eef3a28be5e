package reqorch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EventHandler receives a published lifecycleEvent. A panicking handler
// is recovered and logged; it never brings down the publisher or other
// handlers.
type EventHandler func(lifecycleEvent)

// EventMiddleware wraps event dispatch. It must call next exactly once
// to continue the chain (zero times to short-circuit, i.e. suppress
// delivery to handlers); calling it twice panics, mirroring the
// at-most-once contract interceptors use.
type EventMiddleware func(evt lifecycleEvent, next func(lifecycleEvent))

type subscription struct {
	id       uint64
	pattern  string
	exact    bool
	any      bool
	priority int
	once     bool
	handler  EventHandler
}

// SubscribeOption configures a subscription's dispatch priority or
// auto-unsubscribe behavior.
type SubscribeOption func(*subscription)

// WithPriority sets a pattern subscription's dispatch priority among
// other pattern subscriptions matching the same event; higher runs
// first, insertion order preserved for ties. It has no effect on exact
// or any subscriptions, which always dispatch ahead of pattern ones.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) { s.priority = priority }
}

// Once auto-unsubscribes the handler after its first delivered event.
func Once() SubscribeOption {
	return func(s *subscription) { s.once = true }
}

// EventBus is a typed, in-process pub/sub dispatcher for lifecycleEvent.
// Subscriptions may match an exact EventType, every event (SubscribeAny),
// or a glob pattern using '*' as a single wildcard segment (e.g.
// "cache:*" matches every EventCache* type, "*" matches everything).
//
// Within one emission, handlers run exact subscriptions first, then any
// subscriptions, then pattern subscriptions ordered by priority
// (descending, insertion order within a tie). Two independent
// middleware chains wrap delivery: Use registers global middleware that
// runs once around the full set of handler invocations for a publish
// and can veto delivery entirely; UsePattern registers middleware that
// wraps only pattern-subscription handler invocations, nested inside
// the global chain.
type EventBus struct {
	mu           sync.RWMutex
	subs         []*subscription
	nextID       uint64
	globalChain  []EventMiddleware
	patternChain []EventMiddleware
	logger       Logger
}

// NewEventBus constructs an empty EventBus. A nil logger disables panic
// logging (panics are still recovered, just silently).
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventBus{logger: logger}
}

// Subscribe registers handler for an exact EventType.
func (b *EventBus) Subscribe(t EventType, handler EventHandler, opts ...SubscribeOption) (unsubscribe func()) {
	return b.add(&subscription{pattern: string(t), exact: true, handler: handler}, opts)
}

// SubscribeAny registers handler for every event type published.
func (b *EventBus) SubscribeAny(handler EventHandler, opts ...SubscribeOption) (unsubscribe func()) {
	return b.add(&subscription{any: true, handler: handler}, opts)
}

// SubscribePattern registers handler for every EventType matching a glob
// pattern. Supported forms: "*" (everything, dispatched as an any
// subscription), "prefix:*" (namespace match), and exact strings with
// no wildcard (matching the same event as Subscribe, but dispatched and
// ordered as a pattern subscription).
func (b *EventBus) SubscribePattern(pattern string, handler EventHandler, opts ...SubscribeOption) (unsubscribe func()) {
	if pattern == "*" {
		return b.SubscribeAny(handler, opts...)
	}
	return b.add(&subscription{pattern: pattern, handler: handler}, opts)
}

func (b *EventBus) add(s *subscription, opts []SubscribeOption) func() {
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return func() { b.remove(s.id) }
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Use registers global middleware, run once around the full set of
// handler invocations (exact, any, and pattern alike) for a publish.
func (b *EventBus) Use(mw EventMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalChain = append(b.globalChain, mw)
}

// UsePattern registers middleware wrapping only pattern-subscription
// handler invocations, nested inside the global chain.
func (b *EventBus) UsePattern(mw EventMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patternChain = append(b.patternChain, mw)
}

// Publish is a synchronous alias for Emit, kept for callers that only
// care about firing an event and don't need the fire-and-forget /
// awaitable distinction Emit and EmitAsync draw.
func (b *EventBus) Publish(evt lifecycleEvent) { b.Emit(evt) }

// Emit dispatches evt to every matching subscription on the calling
// goroutine and returns once delivery (global middleware, every exact
// and any handler, and every pattern-middleware-wrapped pattern
// handler) has completed. This is the bus's fire-and-forget mode: since
// Go handlers are plain synchronous functions rather than futures,
// "fire-and-forget" means the caller never waits on a handler's own
// background work, not that delivery itself is deferred.
func (b *EventBus) Emit(evt lifecycleEvent) {
	exact, any, pattern, onceIDs := b.matchingSubs(evt.Type)
	patternChain := b.snapshotPatternChain()

	deliver := func(evt lifecycleEvent) {
		for _, s := range exact {
			b.invoke(nil, s, evt)
		}
		for _, s := range any {
			b.invoke(nil, s, evt)
		}
		for _, s := range pattern {
			b.invoke(patternChain, s, evt)
		}
	}

	b.runGlobal(evt, deliver)
	b.dropOnce(onceIDs)
}

// EmitAsync dispatches evt the same way as Emit (global middleware, then
// exact, then any, then priority-ordered pattern handlers) but runs each
// matching handler on its own goroutine so one blocked or slow sibling
// cannot delay delivery to the others, and blocks until every handler
// has returned. This is deliberately not built on golang.org/x/sync
// errgroup, whose first-error-cancels-the-rest semantics would let one
// handler's panic or error tear down delivery to its siblings; event
// handlers must run in isolation from each other.
func (b *EventBus) EmitAsync(evt lifecycleEvent) {
	exact, any, pattern, onceIDs := b.matchingSubs(evt.Type)
	patternChain := b.snapshotPatternChain()

	var wg sync.WaitGroup
	spawn := func(chain []EventMiddleware, s *subscription, evt lifecycleEvent) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.invoke(chain, s, evt)
		}()
	}

	deliver := func(evt lifecycleEvent) {
		for _, s := range exact {
			spawn(nil, s, evt)
		}
		for _, s := range any {
			spawn(nil, s, evt)
		}
		for _, s := range pattern {
			spawn(patternChain, s, evt)
		}
	}

	b.runGlobal(evt, deliver)
	wg.Wait()
	b.dropOnce(onceIDs)
}

// matchingSubs returns the subscriptions matching t, partitioned into
// exact/any/pattern (pattern sorted priority-desc, insertion order for
// ties) and the IDs of any once subscriptions among them so the caller
// can unsubscribe after delivery completes.
func (b *EventBus) matchingSubs(t EventType) (exact, any, pattern []*subscription, onceIDs []uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !matches(s, t) {
			continue
		}
		switch {
		case s.exact:
			exact = append(exact, s)
		case s.any:
			any = append(any, s)
		default:
			pattern = append(pattern, s)
		}
		if s.once {
			onceIDs = append(onceIDs, s.id)
		}
	}

	sort.SliceStable(pattern, func(i, j int) bool { return pattern[i].priority > pattern[j].priority })
	return exact, any, pattern, onceIDs
}

func (b *EventBus) snapshotPatternChain() []EventMiddleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.patternChain
}

func (b *EventBus) dropOnce(ids []uint64) {
	for _, id := range ids {
		b.remove(id)
	}
}

func (b *EventBus) runGlobal(evt lifecycleEvent, deliver func(lifecycleEvent)) {
	b.mu.RLock()
	chain := b.globalChain
	b.mu.RUnlock()
	runChain(chain, evt, deliver, b.logger)
}

// invoke runs handler through chain (nil for exact/any subscriptions,
// which are not wrapped by pattern middleware), with panic recovery
// around the handler itself so a misbehaving observer never reaches the
// publisher.
func (b *EventBus) invoke(chain []EventMiddleware, s *subscription, evt lifecycleEvent) {
	final := func(evt lifecycleEvent) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked", "event", string(evt.Type), "panic", fmt.Sprint(r))
			}
		}()
		s.handler(evt)
	}
	if len(chain) == 0 {
		final(evt)
		return
	}
	runChain(chain, evt, final, b.logger)
}

// runChain composes middleware into a single next()-chained call,
// enforcing that each middleware step invokes next at most once.
func runChain(chain []EventMiddleware, evt lifecycleEvent, terminal func(lifecycleEvent), logger Logger) {
	var step func(i int, evt lifecycleEvent)
	step = func(i int, evt lifecycleEvent) {
		if i >= len(chain) {
			terminal(evt)
			return
		}
		called := false
		next := func(evt lifecycleEvent) {
			if called {
				panic("reqorch: event middleware called next() more than once")
			}
			called = true
			step(i+1, evt)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event middleware panicked", "panic", fmt.Sprint(r))
				}
			}()
			chain[i](evt, next)
		}()
	}
	step(0, evt)
}

func matches(s *subscription, t EventType) bool {
	if s.any {
		return true
	}
	if s.exact {
		return s.pattern == string(t)
	}
	if strings.HasSuffix(s.pattern, ":*") {
		prefix := strings.TrimSuffix(s.pattern, "*")
		return strings.HasPrefix(string(t), prefix)
	}
	return s.pattern == string(t)
}
