package transport

import "sync"

// Dispatcher is the handler registry embedded by transport implementations.
// It routes dispatched events to every handler subscribed to that name and
// serializes handler invocation: no two handlers ever run concurrently, which
// gives the session core its single-logical-thread mutation model.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int

	// dispatchMu serializes handler execution across all events.
	dispatchMu sync.Mutex
}

// NewDispatcher creates an empty Dispatcher ready for use.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]map[int]Handler)}
}

// subscription implements Subscription for a single registered handler.
type subscription struct {
	d     *Dispatcher
	event string
	id    int
	once  sync.Once
}

// Unsubscribe removes the handler from the registry. Safe to call more than
// once and after the dispatcher has been discarded.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.d.mu.Lock()
		if hs, ok := s.d.handlers[s.event]; ok {
			delete(hs, s.id)
			if len(hs) == 0 {
				delete(s.d.handlers, s.event)
			}
		}
		s.d.mu.Unlock()
	})
}

// Register associates a handler with an event name and returns its handle.
// Multiple handlers may subscribe to the same event; each receives every
// dispatch in registration order.
func (d *Dispatcher) Register(event string, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	hs, ok := d.handlers[event]
	if !ok {
		hs = make(map[int]Handler)
		d.handlers[event] = hs
	}
	id := d.nextID
	d.nextID++
	hs[id] = h
	return &subscription{d: d, event: event, id: id}
}

// Dispatch invokes every handler subscribed to the event, in registration
// order, under the dispatch lock. Events with no subscribers are dropped.
func (d *Dispatcher) Dispatch(event string, payload interface{}) {
	d.mu.Lock()
	hs := d.handlers[event]
	ids := make([]int, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	// Sort ids so invocation order matches registration order.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	ordered := make([]Handler, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, hs[id])
	}
	d.mu.Unlock()

	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	for _, h := range ordered {
		h(payload)
	}
}

// DispatchTo invokes a single handler under the dispatch lock. Used by
// implementations to synthesize a connect callback for late subscribers
// without re-notifying everyone else.
//
// The dispatch lock is not reentrant: calling DispatchTo (or subscribing to
// the connect event of an already-connected transport, which triggers it)
// from inside a running handler deadlocks. Subscriptions belong in component
// Start methods, not in handlers.
func (d *Dispatcher) DispatchTo(h Handler, payload interface{}) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	h(payload)
}

// Run executes fn under the dispatch lock, serialized with every handler
// invocation. Externally initiated actions routed through Run and event
// handlers therefore never mutate state concurrently. The same
// non-reentrancy restriction as DispatchTo applies: fn must not dispatch,
// and handlers must not call Run.
func (d *Dispatcher) Run(fn func()) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	fn()
}
