// Package core assembles the session components into one running client
// core. It owns the glue between transport events and component state:
// presence snapshots feed the tracker, incoming chat feeds the history
// store, and room changes reset presence and rehydrate history. Callers
// construct the transport and storage themselves and hand them in; the core
// never dials or opens anything on its own.
package core

import (
	"context"
	"log"
	"time"

	"github.com/huddle/session-core/internal/call"
	"github.com/huddle/session-core/internal/history"
	"github.com/huddle/session-core/internal/metrics"
	"github.com/huddle/session-core/internal/pairing"
	"github.com/huddle/session-core/internal/presence"
	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/session"
	"github.com/huddle/session-core/internal/storage"
	"github.com/huddle/session-core/internal/transport"
)

// loadTimeout bounds the storage read that hydrates history on a room
// change.
const loadTimeout = 5 * time.Second

// Config carries the session parameters.
type Config struct {
	// Identity is the user id announced on register. Empty means the
	// session stays passive after connect.
	Identity string

	// FallbackRoom is the room joined when no pairing room is active.
	FallbackRoom string
}

// Core is the assembled session client. All state-mutating operations —
// transport event handlers and the public methods below — run on one
// logical execution context, serialized through the transport's Do hook;
// no two of them ever mutate component state concurrently.
type Core struct {
	tr      transport.Transport
	store   storage.Store
	sess    *session.Manager
	peers   *presence.Tracker
	pairing *pairing.Negotiator
	history *history.Store
	calls   *call.Machine

	subs []transport.Subscription

	// PairingIncoming, when set before Start, is invoked after an
	// incoming pairing request has been accepted and the room switched.
	// It runs on the event dispatch context: it must not call the Core's
	// mutating operations synchronously.
	PairingIncoming func(fromUserID string)

	// PermissionDenied, when set before Start, is invoked when frame
	// capture is rejected for authorization and the relay has halted.
	PermissionDenied func()
}

// New assembles a Core over the given transport, storage backend and
// capture source. The transport and storage remain owned by the caller and
// are not closed by Core.Close.
func New(tr transport.Transport, st storage.Store, capture call.CaptureSource, cfg Config) *Core {
	c := &Core{tr: tr, store: st}
	c.sess = session.NewManager(tr, cfg.Identity, cfg.FallbackRoom)
	c.peers = presence.NewTracker(c.sess)
	c.pairing = pairing.NewNegotiator(tr, c.sess)
	c.history = history.NewStore(tr, c.sess, st)

	relay := call.NewRelay(tr, c.sess, capture)
	c.calls = call.NewMachine(tr, c.sess, c.peers, relay)
	return c
}

// Start wires the components together and begins handling events. Call
// exactly once; Close undoes it.
func (c *Core) Start() {
	c.sess.RoomChanged = c.onRoomChanged
	c.pairing.Incoming = c.PairingIncoming
	c.calls.Relay().PermissionDenied = c.PermissionDenied

	c.subs = append(c.subs,
		c.tr.On(protocol.EventConnect, func(interface{}) { metrics.Connected.Set(1) }),
		c.tr.On(protocol.EventDisconnect, c.onDisconnect),
		c.tr.On(protocol.EventPresenceSnapshot, c.onSnapshot),
		c.tr.On(protocol.EventChatNew, c.onChatNew),
	)

	c.sess.Start()
	c.pairing.Start()
	c.calls.Start()

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	c.history.LoadForRoom(ctx, c.sess.ActiveRoom())
}

// Close tears the session down: the call ends, the active room is left, and
// every subscription is released. The transport and storage stay open for
// the caller to close.
func (c *Core) Close() {
	c.calls.Stop()
	c.pairing.Stop()
	c.sess.Stop()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	metrics.Connected.Set(0)
	metrics.RoomPeers.Set(0)
}

// onRoomChanged resets room-scoped state after the session switched rooms.
func (c *Core) onRoomChanged(room string) {
	log.Printf("[core] room changed: %s", room)
	c.peers.Reset()
	metrics.RoomPeers.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	c.history.LoadForRoom(ctx, room)
}

func (c *Core) onDisconnect(interface{}) {
	metrics.Connected.Set(0)
	c.peers.Reset()
	metrics.RoomPeers.Set(0)
}

func (c *Core) onSnapshot(payload interface{}) {
	ev, ok := payload.(protocol.PresenceSnapshotEvent)
	if !ok {
		return
	}
	if c.peers.Apply(ev.Room, ev.Peers) {
		metrics.RoomPeers.Set(float64(c.peers.PeerCount()))
	}
}

func (c *Core) onChatNew(payload interface{}) {
	ev, ok := payload.(protocol.ChatNewEvent)
	if !ok {
		return
	}
	if c.history.ApplyIncoming(ev) {
		metrics.MessagesTotal.WithLabelValues("merged").Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
	}
}

// SendMessage appends a local message and emits it to the active room.
func (c *Core) SendMessage(text string) (history.Message, error) {
	var msg history.Message
	var err error
	c.tr.Do(func() {
		msg, err = c.history.SendLocal(text)
	})
	if err != nil {
		return history.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return msg, nil
}

// Messages returns the active room's history, newest first.
func (c *Core) Messages() []history.Message {
	return c.history.Messages()
}

// RequestPairing proposes a private pairing with the given user.
func (c *Core) RequestPairing(targetUserID string) error {
	var err error
	c.tr.Do(func() {
		err = c.pairing.Request(targetUserID)
	})
	return err
}

// PlaceCall invites the active room's peers to a call.
func (c *Core) PlaceCall() error {
	var err error
	c.tr.Do(func() {
		err = c.calls.PlaceCall()
	})
	return err
}

// AcceptCall answers a ringing call.
func (c *Core) AcceptCall() error {
	var err error
	c.tr.Do(func() {
		err = c.calls.Accept()
	})
	return err
}

// Hangup ends a ringing or active call.
func (c *Core) Hangup() {
	c.tr.Do(c.calls.Hangup)
}

// ---------------------------------------------------------------------------
// State accessors
// ---------------------------------------------------------------------------

// ConnectionState returns the session connection state.
func (c *Core) ConnectionState() session.ConnectionState {
	return c.sess.State()
}

// ActiveRoom returns the room the session currently targets.
func (c *Core) ActiveRoom() string {
	return c.sess.ActiveRoom()
}

// Peers returns the active room's peer list in arrival order.
func (c *Core) Peers() []presence.Peer {
	return c.peers.Peers()
}

// FirstOtherPeer returns the first peer of the active room that is not the
// local user, in snapshot order.
func (c *Core) FirstOtherPeer() (presence.Peer, bool) {
	return c.peers.FirstOtherPeer(c.sess.Identity())
}

// PairingState returns the pairing negotiation state.
func (c *Core) PairingState() pairing.State {
	return c.pairing.State()
}

// CallStatus returns the call signaling state.
func (c *Core) CallStatus() call.Status {
	return c.calls.Status()
}

// RemoteFrame returns the latest remote call frame, or false when none is
// held.
func (c *Core) RemoteFrame() (string, bool) {
	return c.calls.RemoteFrame()
}

// LastConnectError returns the most recent connection failure message,
// empty once a connect succeeds.
func (c *Core) LastConnectError() string {
	return c.sess.LastConnectError()
}
