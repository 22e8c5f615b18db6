// Package pairing drives the direct-message handshake: a locally requested
// pairing moves None -> Pending(room) -> Ready(room), while a remote-initiated
// one jumps straight to Ready by joining the proposed room. At most one
// pairing room is active per session; entering a new one leaves the previous
// room first.
package pairing

import (
	"errors"
	"log"
	"sync"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/session"
	"github.com/huddle/session-core/internal/transport"
)

// Validation faults reported by Request. None of them mutate state.
var (
	ErrNotConnected = errors.New("pairing: not connected")
	ErrEmptyTarget  = errors.New("pairing: target user id is empty")
	ErrSelfPairing  = errors.New("pairing: cannot pair with yourself")
)

// State is the pairing lifecycle state.
type State int

const (
	None State = iota
	Pending
	Ready
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	default:
		return "none"
	}
}

// Negotiator is the pairing state machine.
type Negotiator struct {
	tr   transport.Transport
	sess *session.Manager

	mu    sync.Mutex
	state State
	room  string
	subs  []transport.Subscription

	// Incoming, when set before Start, is invoked when a peer initiates a
	// pairing unprompted, with the initiator's user id. Presentation of the
	// notification is the collaborator's concern.
	Incoming func(fromUserID string)
}

// NewNegotiator creates a Negotiator bound to the given transport and
// session manager.
func NewNegotiator(tr transport.Transport, sess *session.Manager) *Negotiator {
	return &Negotiator{tr: tr, sess: sess}
}

// Start subscribes to the pairing events.
func (n *Negotiator) Start() {
	n.subs = append(n.subs,
		n.tr.On(protocol.EventPairingPending, n.onPending),
		n.tr.On(protocol.EventPairingIncoming, n.onIncoming),
		n.tr.On(protocol.EventPairingReady, n.onReady),
	)
}

// Stop releases the transport subscriptions. Pairing state is left as-is;
// teardown of the room itself is the session manager's concern.
func (n *Negotiator) Stop() {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.subs = nil
}

// Request asks the server to open a pairing with the target user. Valid only
// while connected; self-pairing and empty targets are rejected before any
// network emission.
func (n *Negotiator) Request(targetUserID string) error {
	if n.sess.State() < session.Connected {
		return ErrNotConnected
	}
	if targetUserID == "" {
		return ErrEmptyTarget
	}
	if targetUserID == n.sess.Identity() {
		return ErrSelfPairing
	}

	log.Printf("[pairing] opening pairing with user=%s", targetUserID)
	return n.tr.Emit(protocol.EventPairingOpen, protocol.PairingOpenEvent{TargetUserID: targetUserID})
}

// onPending handles the server's confirmation of a locally initiated
// pairing: leave any previously active pairing room, then go Pending on the
// proposed one. The session manager re-issues join and presence:request for
// the new room.
func (n *Negotiator) onPending(payload interface{}) {
	ev, ok := payload.(protocol.PairingPendingEvent)
	if !ok || ev.Room == "" {
		return
	}

	n.mu.Lock()
	if n.room == ev.Room {
		// Replay of the transition we're already in.
		n.mu.Unlock()
		return
	}
	previous := n.room
	n.state = Pending
	n.room = ev.Room
	n.mu.Unlock()

	n.leave(previous)
	log.Printf("[pairing] pending room=%s", ev.Room)
	n.sess.SetPairingRoom(ev.Room)
}

// onIncoming handles a pairing initiated unprompted by a peer: same
// leave-then-switch rule, then join the proposed room directly and surface
// the notification hook.
func (n *Negotiator) onIncoming(payload interface{}) {
	ev, ok := payload.(protocol.PairingIncomingEvent)
	if !ok || ev.Room == "" {
		return
	}

	n.mu.Lock()
	previous := n.room
	same := n.room == ev.Room
	n.state = Ready
	n.room = ev.Room
	n.mu.Unlock()

	if !same {
		n.leave(previous)
		if err := n.tr.Emit(protocol.EventPairingJoin, protocol.PairingJoinEvent{Room: ev.Room}); err != nil {
			log.Printf("[pairing] join %s failed: %v", ev.Room, err)
		}
		n.sess.SetPairingRoom(ev.Room)
	}

	log.Printf("[pairing] incoming from user=%s room=%s", ev.FromUserID, ev.Room)
	if n.Incoming != nil {
		n.Incoming(ev.FromUserID)
	}
}

// onReady handles the both-sides-joined confirmation: refresh presence for
// the pairing room. A ready event for any other room is stale and ignored —
// it must never downgrade or overwrite a newer pairing in progress.
func (n *Negotiator) onReady(payload interface{}) {
	ev, ok := payload.(protocol.PairingReadyEvent)
	if !ok {
		return
	}

	n.mu.Lock()
	if ev.Room != n.room {
		n.mu.Unlock()
		log.Printf("[pairing] ignoring stale ready for room=%s", ev.Room)
		return
	}
	n.state = Ready
	n.mu.Unlock()

	log.Printf("[pairing] ready room=%s", ev.Room)
	if err := n.tr.Emit(protocol.EventPresenceRequest, protocol.PresenceRequestEvent{Room: ev.Room}); err != nil {
		log.Printf("[pairing] presence request failed: %v", err)
	}
}

// leave abandons a previously active pairing room, if any.
func (n *Negotiator) leave(room string) {
	if room == "" {
		return
	}
	err := n.tr.Emit(protocol.EventLeave, protocol.LeaveEvent{Room: room, UserID: n.sess.Identity()})
	if err != nil {
		log.Printf("[pairing] leave %s failed: %v", room, err)
	}
}

// State returns the current pairing state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Room returns the active pairing room, or "" when none is negotiated.
func (n *Negotiator) Room() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.room
}
