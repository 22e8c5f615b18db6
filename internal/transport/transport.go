// Package transport defines the duplex named-event connection consumed by the
// session core, plus the handler registry shared by its implementations. The
// core never constructs a connection itself; a concrete transport is built by
// the composition root and passed in by reference.
package transport

// Handler is the callback signature for a subscribed event. The payload is
// the decoded protocol struct for the event, or nil for payload-free events.
type Handler func(payload interface{})

// Subscription is the handle returned by On. Releasing it deregisters the
// handler; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Transport is a duplex named-event connection with automatic reconnection.
// Lifecycle is reported through the same subscription mechanism as remote
// events, under the protocol.EventConnect / EventDisconnect /
// EventConnectError names.
//
// Subscribing to the connect event while the transport is already connected
// must synthesize one immediate callback, so downstream listeners observe
// exactly one "became connected" call per physical connection.
type Transport interface {
	// Emit sends a named event with the given payload. Sends are
	// fire-and-forget: a nil error means the event was handed to the
	// connection, not that the server processed it.
	Emit(event string, payload interface{}) error

	// On registers a handler for a named event and returns its handle.
	// Handlers for all events run serialized: no two run concurrently,
	// and none runs concurrently with a function passed to Do. A handler
	// must not call On for the connect event or Do on its own transport;
	// the serialization lock is not reentrant.
	On(event string, h Handler) Subscription

	// Do runs fn serialized with event handler dispatch. State-mutating
	// actions initiated outside a handler (user operations) go through Do
	// so that the whole core mutates under one logical execution context.
	Do(fn func())

	// Connected reports whether the transport currently holds a live
	// connection.
	Connected() bool

	// Close tears the connection down and stops reconnection attempts.
	Close() error
}
