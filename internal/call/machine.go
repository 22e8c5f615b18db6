// Package call implements the call signaling state machine and the frame
// relay loop. Signaling moves between Idle, Ringing and InCall driven by
// local actions and remote events; the relay loop runs only while InCall and
// owns the single capture timer for the session.
package call

import (
	"errors"
	"log"
	"sync"

	"github.com/huddle/session-core/internal/metrics"
	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport"
)

// Faults reported by call actions. None of them mutate state.
var (
	ErrNoPeer     = errors.New("call: no peer available")
	ErrNotIdle    = errors.New("call: a call is already in progress")
	ErrNotRinging = errors.New("call: no ringing call to accept")
)

// Status is the call signaling state.
type Status int

const (
	Idle Status = iota
	Ringing
	InCall
)

// String returns the lowercase status name for logging.
func (s Status) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case InCall:
		return "in-call"
	default:
		return "idle"
	}
}

// Session is the slice of the session manager the machine consumes.
type Session interface {
	ActiveRoom() string
}

// PeerCounter reports how many peers the active room currently has.
// Satisfied by presence.Tracker.
type PeerCounter interface {
	PeerCount() int
}

// Machine is the call signaling state machine. It owns the frame relay loop
// and guarantees the relay never outlives the call it belongs to.
type Machine struct {
	tr    transport.Transport
	sess  Session
	peers PeerCounter
	relay *Relay

	mu          sync.Mutex
	status      Status
	remoteFrame string
	subs        []transport.Subscription
}

// NewMachine creates a Machine bound to the given collaborators. The relay
// is started and stopped by the machine; callers never touch it directly.
func NewMachine(tr transport.Transport, sess Session, peers PeerCounter, relay *Relay) *Machine {
	return &Machine{tr: tr, sess: sess, peers: peers, relay: relay}
}

// Start subscribes to the call events.
func (m *Machine) Start() {
	m.subs = append(m.subs,
		m.tr.On(protocol.EventCallRinging, m.onRinging),
		m.tr.On(protocol.EventCallAccepted, m.onAccepted),
		m.tr.On(protocol.EventCallEnded, m.onEnded),
		m.tr.On(protocol.EventCallFrame, m.onFrame),
	)
}

// Stop releases the transport subscriptions and tears the call down. No
// path leaves the relay timer running after teardown.
func (m *Machine) Stop() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	m.toIdle()
}

// PlaceCall invites the active room's peers to a call. Valid only from Idle,
// and only when the room holds at least one other participant.
func (m *Machine) PlaceCall() error {
	m.mu.Lock()
	if m.status != Idle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	if m.peers.PeerCount() < 2 {
		m.mu.Unlock()
		return ErrNoPeer
	}
	m.setStatusLocked(Ringing)
	m.mu.Unlock()

	room := m.sess.ActiveRoom()
	log.Printf("[call] inviting room=%s", room)
	if err := m.tr.Emit(protocol.EventCallInvite, protocol.CallInviteEvent{Room: room}); err != nil {
		log.Printf("[call] invite failed: %v", err)
	}
	return nil
}

// Accept answers a ringing call and starts relaying frames. The relay is
// started under the status lock, so an ending that lands mid-accept always
// observes the started relay and stops it in toIdle.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.status != Ringing {
		m.mu.Unlock()
		return ErrNotRinging
	}
	m.setStatusLocked(InCall)
	m.relay.Start()
	m.mu.Unlock()

	room := m.sess.ActiveRoom()
	log.Printf("[call] accepted room=%s", room)
	if err := m.tr.Emit(protocol.EventCallAccept, protocol.CallAcceptEvent{Room: room}); err != nil {
		log.Printf("[call] accept failed: %v", err)
	}
	return nil
}

// Hangup ends a ringing or active call. A no-op when already Idle.
func (m *Machine) Hangup() {
	m.mu.Lock()
	if m.status == Idle {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	room := m.sess.ActiveRoom()
	log.Printf("[call] hangup room=%s", room)
	if err := m.tr.Emit(protocol.EventCallHangup, protocol.CallHangupEvent{Room: room}); err != nil {
		log.Printf("[call] hangup failed: %v", err)
	}
	m.toIdle()
}

// onRinging handles the callee side of an invite.
func (m *Machine) onRinging(interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != Idle {
		log.Printf("[call] ignoring ringing while %s", m.status)
		return
	}
	m.setStatusLocked(Ringing)
}

// onAccepted handles the remote side answering. An accepted event while Idle
// is stale or duplicated and must not start a call — there is no transition
// from Idle straight to InCall.
func (m *Machine) onAccepted(interface{}) {
	m.mu.Lock()
	if m.status != Ringing {
		m.mu.Unlock()
		log.Printf("[call] ignoring accepted while %s", m.status)
		return
	}
	m.setStatusLocked(InCall)
	m.relay.Start()
	m.mu.Unlock()
}

// onEnded handles the remote hangup.
func (m *Machine) onEnded(interface{}) {
	m.mu.Lock()
	stale := m.status == Idle
	m.mu.Unlock()
	if stale {
		return
	}
	log.Printf("[call] remote ended")
	m.toIdle()
}

// onFrame stores the payload as the latest remote frame. Valid in any state:
// a late frame after hangup is simply cleared by the next state reset.
func (m *Machine) onFrame(payload interface{}) {
	frame, ok := payload.(protocol.CallFrameIn)
	if !ok {
		return
	}
	metrics.FramesTotal.WithLabelValues("received").Inc()
	m.mu.Lock()
	m.remoteFrame = frame.Data
	m.mu.Unlock()
}

// toIdle clears the remote frame, resets the status, and stops the relay,
// all under the same lock that pairs the InCall transition with relay.Start
// in Accept/onAccepted. Status and relay state can therefore never be
// observed disagreeing: an ending that races an accept either runs before
// it (the accept then fails the Ringing check) or after it (and stops the
// relay the accept started).
func (m *Machine) toIdle() {
	m.mu.Lock()
	m.remoteFrame = ""
	m.setStatusLocked(Idle)
	m.relay.Stop()
	m.mu.Unlock()
}

// setStatusLocked updates the status and its gauge. Callers hold m.mu.
func (m *Machine) setStatusLocked(status Status) {
	m.status = status
	metrics.CallState.Set(float64(status))
}

// Relay returns the frame relay owned by this machine.
func (m *Machine) Relay() *Relay {
	return m.relay
}

// Status returns the current signaling state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RemoteFrame returns the most recently received remote frame, or false when
// none is held.
func (m *Machine) RemoteFrame() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteFrame, m.remoteFrame != ""
}
