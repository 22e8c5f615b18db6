// Package transporttest provides an in-memory Transport used by package
// tests across the session core. It records every emitted event and lets the
// test inject inbound events and connection state changes.
package transporttest

import (
	"sync"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport"
)

// Emitted is one recorded outbound event.
type Emitted struct {
	Event   string
	Payload interface{}
}

// Fake is an in-memory transport.Transport.
type Fake struct {
	dispatcher *transport.Dispatcher

	mu        sync.Mutex
	connected bool
	emitted   []Emitted

	// EmitErr, when non-nil, is returned by every Emit call.
	EmitErr error
}

// New creates a disconnected Fake.
func New() *Fake {
	return &Fake{dispatcher: transport.NewDispatcher()}
}

// Emit records the outbound event.
func (f *Fake) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, Emitted{Event: event, Payload: payload})
	f.mu.Unlock()
	return f.EmitErr
}

// On registers a handler. Subscribing to the connect event while already
// connected synthesizes one immediate callback, matching the contract real
// transports honor.
func (f *Fake) On(event string, h transport.Handler) transport.Subscription {
	sub := f.dispatcher.Register(event, h)
	if event == protocol.EventConnect && f.Connected() {
		f.dispatcher.DispatchTo(h, nil)
	}
	return sub
}

// Do runs fn serialized with dispatched handlers.
func (f *Fake) Do(fn func()) {
	f.dispatcher.Run(fn)
}

// Connected reports the simulated connection state.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Close marks the transport disconnected without dispatching events.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// SetConnected flips the connection state and dispatches the matching
// lifecycle event to subscribers. A no-op when the state is unchanged.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	if f.connected == connected {
		f.mu.Unlock()
		return
	}
	f.connected = connected
	f.mu.Unlock()

	if connected {
		f.dispatcher.Dispatch(protocol.EventConnect, nil)
	} else {
		f.dispatcher.Dispatch(protocol.EventDisconnect, nil)
	}
}

// Receive injects an inbound event as if it arrived from the server.
func (f *Fake) Receive(event string, payload interface{}) {
	f.dispatcher.Dispatch(event, payload)
}

// Emitted returns a snapshot of every recorded outbound event, in order.
func (f *Fake) Emitted() []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Emitted, len(f.emitted))
	copy(out, f.emitted)
	return out
}

// EmittedNamed returns the recorded outbound events with the given name.
func (f *Fake) EmittedNamed(event string) []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Emitted
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recorded outbound events.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.emitted = nil
	f.mu.Unlock()
}
