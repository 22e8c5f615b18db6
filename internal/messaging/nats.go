// Package messaging implements the transport.Transport interface over NATS.
// Each session owns a subject pair under the huddle.session.<id> prefix: the
// core publishes envelopes on the ".out" subject and receives envelopes on
// the ".in" subject. Connection lifecycle changes reported by the NATS client
// are translated into the connect / disconnect / connect_error events the
// session core listens for.
package messaging

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport"
)

// SubjectPrefix is the root of all session subjects.
const SubjectPrefix = "huddle.session."

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	SessionID     string        // scopes this session's subject pair
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults. SessionID must be set by the
// caller before dialing.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "huddle",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bus is a NATS-backed Transport.
type Bus struct {
	conn       *nats.Conn
	config     Config
	dispatcher *transport.Dispatcher
	inbound    *nats.Subscription
}

// Dial connects to NATS with the given config and returns a ready Bus. It
// returns an error if the initial connection or the inbound subscription
// fails.
func Dial(config Config) (*Bus, error) {
	if config.SessionID == "" {
		return nil, fmt.Errorf("messaging: session id is required")
	}

	b := &Bus{
		config:     config,
		dispatcher: transport.NewDispatcher(),
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[messaging] disconnected: %v", err)
				b.dispatcher.Dispatch(protocol.EventConnectError, protocol.ConnectErrorEvent{Message: err.Error()})
			} else {
				log.Printf("[messaging] disconnected")
			}
			b.dispatcher.Dispatch(protocol.EventDisconnect, nil)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[messaging] reconnected to %s", nc.ConnectedUrl())
			b.dispatcher.Dispatch(protocol.EventConnect, nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[messaging] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	b.conn = nc

	sub, err := nc.Subscribe(b.inSubject(), func(msg *nats.Msg) {
		event, payload, err := protocol.ParseServerEvent(msg.Data)
		if err != nil {
			log.Printf("[messaging] dropping unparseable event: %v", err)
			return
		}
		b.dispatcher.Dispatch(event, payload)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("messaging: subscribe %s: %w", b.inSubject(), err)
	}
	b.inbound = sub

	log.Printf("[messaging] connected to %s (session=%s)", nc.ConnectedUrl(), config.SessionID)
	return b, nil
}

func (b *Bus) inSubject() string {
	return SubjectPrefix + b.config.SessionID + ".in"
}

func (b *Bus) outSubject() string {
	return SubjectPrefix + b.config.SessionID + ".out"
}

// Emit implements transport.Transport. The event is wrapped in a protocol
// envelope and published on the session's out subject.
func (b *Bus) Emit(event string, payload interface{}) error {
	data, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.outSubject(), data); err != nil {
		return fmt.Errorf("messaging: emit %q: %w", event, err)
	}
	return nil
}

// On implements transport.Transport. Subscribing to the connect event while
// already connected synthesizes one immediate callback.
func (b *Bus) On(event string, h transport.Handler) transport.Subscription {
	sub := b.dispatcher.Register(event, h)
	if event == protocol.EventConnect && b.Connected() {
		b.dispatcher.DispatchTo(h, nil)
	}
	return sub
}

// Do implements transport.Transport: fn runs serialized with handler
// dispatch.
func (b *Bus) Do(fn func()) {
	b.dispatcher.Run(fn)
}

// Connected implements transport.Transport.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains the inbound subscription and closes the NATS connection.
func (b *Bus) Close() error {
	if b.inbound != nil {
		if err := b.inbound.Drain(); err != nil {
			log.Printf("[messaging] drain %s: %v", b.inSubject(), err)
		}
	}
	if err := b.conn.Drain(); err != nil {
		log.Printf("[messaging] connection drain: %v", err)
	}
	log.Printf("[messaging] client closed")
	return nil
}
