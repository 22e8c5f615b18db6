// Package session owns the connection lifecycle state of the realtime
// session: whether the transport is connected and authenticated, what the
// local identity is, and which room is currently active. The active room is
// derived from one rule — a negotiated pairing room overrides the fallback
// room — and this package is its single source of truth; presence, history
// and call components all consult it rather than tracking their own copy.
package session

import (
	"log"
	"sync"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport"
)

// ConnectionState is the session's transport lifecycle state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
	Authenticated
)

// String returns the lowercase state name for logging.
func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Manager tracks connection state and the active room, and replays the
// register / join / presence:request sequence on every (re)connect.
type Manager struct {
	tr           transport.Transport
	identity     string
	fallbackRoom string

	mu          sync.Mutex
	state       ConnectionState
	pairingRoom string
	lastConnErr string
	subs        []transport.Subscription
	started     bool

	// RoomChanged, when set before Start, is invoked after the active room
	// switches, with the new room. Called outside the manager's lock.
	RoomChanged func(room string)
}

// NewManager creates a Manager bound to the given transport. The identity is
// the pre-established user token; fallbackRoom is the room used when no
// pairing is active.
func NewManager(tr transport.Transport, identity, fallbackRoom string) *Manager {
	return &Manager{
		tr:           tr,
		identity:     identity,
		fallbackRoom: fallbackRoom,
	}
}

// Start subscribes to the transport lifecycle events. If the transport is
// already connected the transport synthesizes a connect callback, so the
// join replay below runs exactly once per physical connection either way.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.subs = append(m.subs,
		m.tr.On(protocol.EventConnect, m.onConnect),
		m.tr.On(protocol.EventDisconnect, m.onDisconnect),
		m.tr.On(protocol.EventConnectError, m.onConnectError),
		m.tr.On(protocol.EventAuthOK, m.onAuthOK),
	)
}

// Stop releases the transport subscriptions and, if still connected, emits a
// leave for the active room.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil

	m.mu.Lock()
	room := m.activeRoomLocked()
	connected := m.state >= Connected
	m.started = false
	m.mu.Unlock()

	if connected && m.identity != "" {
		if err := m.tr.Emit(protocol.EventLeave, protocol.LeaveEvent{Room: room, UserID: m.identity}); err != nil {
			log.Printf("[session] leave on stop failed: %v", err)
		}
	}
}

// onConnect marks the session connected and replays registration, join and a
// presence request for the active room, in that order. Without an identity
// the session stays passive until one is provided.
func (m *Manager) onConnect(interface{}) {
	m.mu.Lock()
	m.state = Connected
	m.lastConnErr = ""
	room := m.activeRoomLocked()
	m.mu.Unlock()

	if m.identity == "" {
		log.Printf("[session] connected without identity; skipping join replay")
		return
	}

	log.Printf("[session] connected, joining room=%s as user=%s", room, m.identity)
	m.emit(protocol.EventRegister, protocol.RegisterEvent{UserID: m.identity})
	m.emit(protocol.EventJoin, protocol.JoinEvent{Room: room, UserID: m.identity})
	m.emit(protocol.EventPresenceRequest, protocol.PresenceRequestEvent{Room: room})
}

// onDisconnect marks the session disconnected regardless of in-flight
// operations; authentication does not survive a drop.
func (m *Manager) onDisconnect(interface{}) {
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	log.Printf("[session] disconnected")
}

func (m *Manager) onConnectError(payload interface{}) {
	ce, ok := payload.(protocol.ConnectErrorEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	m.lastConnErr = ce.Message
	m.mu.Unlock()
	log.Printf("[session] connect error: %s", ce.Message)
}

// onAuthOK upgrades the state to Authenticated. A stale confirmation
// arriving after a drop is ignored.
func (m *Manager) onAuthOK(interface{}) {
	m.mu.Lock()
	if m.state >= Connected {
		m.state = Authenticated
	}
	m.mu.Unlock()
}

// emit sends an event, logging failures; join replay is fire-and-forget.
func (m *Manager) emit(event string, payload interface{}) {
	if err := m.tr.Emit(event, payload); err != nil {
		log.Printf("[session] emit %s failed: %v", event, err)
	}
}

// activeRoomLocked computes the derived active room. Callers hold m.mu.
func (m *Manager) activeRoomLocked() string {
	if m.pairingRoom != "" {
		return m.pairingRoom
	}
	return m.fallbackRoom
}

// ActiveRoom returns the room the session is currently in: the pairing room
// when a pairing is active, else the fallback room.
func (m *Manager) ActiveRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoomLocked()
}

// SetPairingRoom switches the pairing-room override. When the active room
// actually changes and the session is connected, join and presence:request
// are re-issued for the new room; leaving the old room is the caller's
// responsibility. Passing the current pairing room is a no-op.
func (m *Manager) SetPairingRoom(room string) {
	m.mu.Lock()
	if m.pairingRoom == room {
		m.mu.Unlock()
		return
	}
	m.pairingRoom = room
	active := m.activeRoomLocked()
	connected := m.state >= Connected
	m.mu.Unlock()

	log.Printf("[session] active room is now %s", active)
	if connected && m.identity != "" {
		m.emit(protocol.EventJoin, protocol.JoinEvent{Room: active, UserID: m.identity})
		m.emit(protocol.EventPresenceRequest, protocol.PresenceRequestEvent{Room: active})
	}

	if m.RoomChanged != nil {
		m.RoomChanged(active)
	}
}

// PairingRoom returns the current pairing-room override, or "" when none.
func (m *Manager) PairingRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingRoom
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the local user identity.
func (m *Manager) Identity() string {
	return m.identity
}

// LastConnectError returns the message from the most recent connect_error,
// cleared on the next successful connect.
func (m *Manager) LastConnectError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnErr
}
