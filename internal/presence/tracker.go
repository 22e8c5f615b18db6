// Package presence maintains the peer set for the session's active room.
// Snapshots replace the set wholesale; snapshots for any other room are
// discarded, so a stale list for an abandoned room can never overwrite the
// current one.
package presence

import (
	"log"
	"sync"

	"github.com/huddle/session-core/internal/protocol"
)

// RoomSource reports the session's current active room. Satisfied by
// session.Manager.
type RoomSource interface {
	ActiveRoom() string
}

// Peer is one participant of the active room's presence snapshot.
type Peer struct {
	SessionHandle string
	UserID        string
}

// Tracker holds the latest presence snapshot for the active room.
type Tracker struct {
	rooms RoomSource

	mu    sync.Mutex
	peers []Peer
}

// NewTracker creates a Tracker gated on the given room source.
func NewTracker(rooms RoomSource) *Tracker {
	return &Tracker{rooms: rooms}
}

// Apply installs a snapshot if its room matches the active room, replacing
// the previous peer set wholesale. Snapshots for other rooms are dropped.
// Returns whether the snapshot was applied.
func (t *Tracker) Apply(room string, peers []protocol.WirePeer) bool {
	active := t.rooms.ActiveRoom()
	if room != active {
		log.Printf("[presence] dropping snapshot for room=%s (active=%s)", room, active)
		return false
	}

	next := make([]Peer, len(peers))
	for i, p := range peers {
		next[i] = Peer{SessionHandle: p.SID, UserID: p.UserID}
	}

	t.mu.Lock()
	t.peers = next
	t.mu.Unlock()
	return true
}

// Reset clears the snapshot. Called when the active room changes, before the
// fresh presence request for the new room is answered.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.peers = nil
	t.mu.Unlock()
}

// PeerCount returns the number of peers in the current snapshot.
func (t *Tracker) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// FirstOtherPeer returns the first peer in snapshot order whose user id is
// non-empty and differs from excludeUserID. The second return is false when
// no such peer exists.
func (t *Tracker) FirstOtherPeer(excludeUserID string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.peers {
		if p.UserID != "" && p.UserID != excludeUserID {
			return p, true
		}
	}
	return Peer{}, false
}

// Peers returns a copy of the current snapshot in its given order.
func (t *Tracker) Peers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, len(t.peers))
	copy(out, t.peers)
	return out
}
