// Package wsclient implements the transport.Transport interface over a
// WebSocket connection using gobwas/ws. It maintains a single connection with
// automatic reconnection, a dedicated read loop, and a periodic ping
// keepalive. Incoming frames are parsed as protocol envelopes and dispatched
// to subscribers; connection lifecycle changes are dispatched under the
// connect / disconnect / connect_error event names.
package wsclient

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport"
)

// Config holds tunable parameters for the WebSocket client.
type Config struct {
	URL           string        // ws:// or wss:// endpoint
	DialTimeout   time.Duration // timeout for each dial attempt
	WriteTimeout  time.Duration // timeout for outbound frame writes
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max consecutive reconnect attempts (-1 for infinite)
	PingInterval  time.Duration // keepalive ping cadence
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "ws://localhost:8080/ws",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  10 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // keep trying; the session core replays state on reconnect
		PingInterval:  30 * time.Second,
	}
}

// Client is a WebSocket-backed Transport.
type Client struct {
	config     Config
	dispatcher *transport.Dispatcher

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool

	writeMu sync.Mutex // serializes outbound frames on the current connection
	done    chan struct{}
}

// Dial connects to the configured endpoint and returns a ready Client. The
// initial connection must succeed; subsequent drops are repaired in the
// background per ReconnectWait / MaxReconnects.
func Dial(config Config) (*Client, error) {
	c := &Client{
		config:     config,
		dispatcher: transport.NewDispatcher(),
		done:       make(chan struct{}),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("wsclient: initial connect: %w", err)
	}
	c.attach(conn)

	go c.readLoop()
	go c.pingLoop()

	log.Printf("[wsclient] connected to %s", config.URL)
	return c, nil
}

// dial performs one connection attempt.
func (c *Client) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	conn, _, _, err := ws.Dialer{}.Dial(ctx, c.config.URL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs a fresh connection and dispatches the connect event.
func (c *Client) attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.dispatcher.Dispatch(protocol.EventConnect, nil)
}

// detach tears the current connection down and dispatches disconnect if the
// client was previously connected.
func (c *Client) detach() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	if wasConnected {
		c.dispatcher.Dispatch(protocol.EventDisconnect, nil)
	}
}

// readLoop reads frames from the current connection, dispatching parsed
// events. On read failure it triggers reconnection; it exits when Close is
// called or the reconnect budget is exhausted.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if c.isClosed() {
				return
			}
			log.Printf("[wsclient] read error: %v", err)
			c.detach()
			if !c.reconnect() {
				return
			}
			continue
		}

		event, payload, err := protocol.ParseServerEvent(data)
		if err != nil {
			log.Printf("[wsclient] dropping unparseable event: %v", err)
			continue
		}
		c.dispatcher.Dispatch(event, payload)
	}
}

// reconnect repeatedly dials until a connection is established, the client is
// closed, or MaxReconnects attempts fail. Each failed attempt is dispatched
// as a connect_error event. Returns false if the read loop should exit.
func (c *Client) reconnect() bool {
	attempts := 0
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(c.config.ReconnectWait):
		}

		conn, err := c.dial()
		if err == nil {
			log.Printf("[wsclient] reconnected to %s", c.config.URL)
			c.attach(conn)
			return true
		}

		attempts++
		log.Printf("[wsclient] reconnect attempt %d failed: %v", attempts, err)
		c.dispatcher.Dispatch(protocol.EventConnectError, protocol.ConnectErrorEvent{Message: err.Error()})

		if c.config.MaxReconnects >= 0 && attempts >= c.config.MaxReconnects {
			log.Printf("[wsclient] giving up after %d reconnect attempts", attempts)
			return false
		}
	}
}

// pingLoop sends a protocol-level ping on every interval so intermediate
// proxies keep the connection alive. Write errors are left to the read loop,
// which will observe the broken connection and reconnect.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()
			if !connected || conn == nil {
				continue
			}

			c.writeMu.Lock()
			err := wsutil.WriteClientMessage(conn, ws.OpPing, nil)
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("[wsclient] keepalive ping failed: %v", err)
			}
		}
	}
}

// Emit implements transport.Transport. The event is wrapped in a protocol
// envelope and written as a single text frame.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := protocol.NewClientEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("wsclient: emit %q: not connected", event)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("wsclient: emit %q: %w", event, err)
	}
	return nil
}

// On implements transport.Transport. Subscribing to the connect event while
// already connected synthesizes one immediate callback.
func (c *Client) On(event string, h transport.Handler) transport.Subscription {
	sub := c.dispatcher.Register(event, h)
	if event == protocol.EventConnect && c.Connected() {
		c.dispatcher.DispatchTo(h, nil)
	}
	return sub
}

// Do implements transport.Transport: fn runs serialized with handler
// dispatch.
func (c *Client) Do(fn func()) {
	c.dispatcher.Run(fn)
}

// Connected implements transport.Transport.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close implements transport.Transport. It stops the background loops and
// closes the current connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	log.Printf("[wsclient] closed")
	return nil
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
