// Package protocol defines the named events and payload structures exchanged
// between the session core and the realtime backend. All events are serialized
// as JSON and follow a consistent envelope format with an event discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Core -> Server event names.
const (
	EventRegister        = "register"
	EventJoin            = "join"
	EventLeave           = "leave"
	EventPresenceRequest = "presence:request"
	EventPairingOpen     = "pairing:open"
	EventPairingJoin     = "pairing:join"
	EventChatSend        = "chat:send"
	EventCallInvite      = "call:invite"
	EventCallAccept      = "call:accept"
	EventCallHangup      = "call:hangup"
	EventCallFrame       = "call:frame"
)

// Server -> Core event names. Connect, Disconnect and ConnectError are
// synthesized by the transport rather than carried on the wire.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventAuthOK           = "auth:ok"
	EventPairingPending   = "pairing:pending"
	EventPairingIncoming  = "pairing:incoming"
	EventPairingReady     = "pairing:ready"
	EventPresenceSnapshot = "presence:snapshot"
	EventChatNew          = "chat:new"
	EventCallRinging      = "call:ringing"
	EventCallAccepted     = "call:accepted"
	EventCallEnded        = "call:ended"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the event discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It extracts the
// "event" field and captures the payload bytes so they can be decoded later
// into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	e.Data = make(json.RawMessage, len(partial.Data))
	copy(e.Data, partial.Data)
	return nil
}

// ---------------------------------------------------------------------------
// Core -> Server payload structs
// ---------------------------------------------------------------------------

// RegisterEvent associates the pre-established identity token with the
// current connection.
type RegisterEvent struct {
	UserID string `json:"userId"`
}

// JoinEvent enters a room. Emitted on every (re)connect for the active room.
type JoinEvent struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

// LeaveEvent exits a room. Emitted when a pairing switch abandons its
// previous room and on core teardown.
type LeaveEvent struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

// PresenceRequestEvent asks the server for a fresh presence snapshot.
type PresenceRequestEvent struct {
	Room string `json:"room"`
}

// PairingOpenEvent asks the server to negotiate a private room with the
// target user.
type PairingOpenEvent struct {
	TargetUserID string `json:"toUserId"`
}

// PairingJoinEvent joins a pairing room proposed by a remote initiator.
type PairingJoinEvent struct {
	Room string `json:"room"`
}

// ChatSendEvent carries an outgoing chat message tagged with the active room.
type ChatSendEvent struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	CreatedAt int64  `json:"createdAt"`
	Text      string `json:"text"`
	Room      string `json:"room"`
}

// CallInviteEvent invites the peers of a room to a call.
type CallInviteEvent struct {
	Room string `json:"room"`
}

// CallAcceptEvent accepts a ringing call.
type CallAcceptEvent struct {
	Room string `json:"room"`
}

// CallHangupEvent ends a ringing or active call.
type CallHangupEvent struct {
	Room string `json:"room"`
}

// CallFrameOut carries one encoded capture frame to the room's peers.
type CallFrameOut struct {
	Room string `json:"room"`
	Data string `json:"data"`
}

// ---------------------------------------------------------------------------
// Server -> Core payload structs
// ---------------------------------------------------------------------------

// ConnectErrorEvent reports why the transport failed to (re)connect.
type ConnectErrorEvent struct {
	Message string `json:"message"`
}

// PairingPendingEvent confirms a locally initiated pairing and names the
// negotiated room.
type PairingPendingEvent struct {
	Room string `json:"room"`
}

// PairingIncomingEvent announces a pairing initiated unprompted by a peer.
type PairingIncomingEvent struct {
	Room       string `json:"room"`
	FromUserID string `json:"fromUserId"`
}

// PairingReadyEvent confirms both sides have joined the pairing room.
type PairingReadyEvent struct {
	Room string `json:"room"`
}

// WirePeer is one participant in a presence snapshot.
type WirePeer struct {
	SID    string `json:"sid"`
	UserID string `json:"userId"`
}

// PresenceSnapshotEvent is the authoritative, replace-wholesale peer list
// for a room.
type PresenceSnapshotEvent struct {
	Room  string     `json:"room"`
	Peers []WirePeer `json:"peers"`
}

// ChatNewEvent is an incoming chat message. Providers differ on field
// naming, so identity and authorship fall back through the historical
// variants; see UnmarshalJSON.
type ChatNewEvent struct {
	Room      string
	ID        string
	AuthorID  string
	CreatedAt int64
	Text      string
}

// UnmarshalJSON accepts the canonical field names as well as the provider
// variants ("_id" for id, nested "user._id" or "author.id" for authorship).
func (m *ChatNewEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Room      string          `json:"room"`
		ID        json.RawMessage `json:"id"`
		AltID     json.RawMessage `json:"_id"`
		AuthorID  string          `json:"authorId"`
		CreatedAt int64           `json:"createdAt"`
		Text      string          `json:"text"`
		User      struct {
			ID string `json:"_id"`
		} `json:"user"`
		Author struct {
			ID string `json:"id"`
		} `json:"author"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal chat:new: %w", err)
	}

	m.Room = raw.Room
	m.CreatedAt = raw.CreatedAt
	m.Text = raw.Text

	m.ID = flexibleID(raw.AltID)
	if m.ID == "" {
		m.ID = flexibleID(raw.ID)
	}

	m.AuthorID = raw.User.ID
	if m.AuthorID == "" {
		m.AuthorID = raw.Author.ID
	}
	if m.AuthorID == "" {
		m.AuthorID = raw.AuthorID
	}
	return nil
}

// flexibleID decodes an id that may arrive as a JSON string or number.
func flexibleID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// CallFrameIn is an incoming remote capture frame.
type CallFrameIn struct {
	Data string `json:"data"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerEvent parses raw transport bytes into a typed server event. It
// returns the event name, the decoded payload struct, and any error
// encountered during parsing. Events with no payload (auth:ok, call:ringing,
// call:accepted, call:ended) decode to nil.
func ParseServerEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		payload interface{}
		err     error
	)

	switch env.Event {
	case EventConnectError:
		var m ConnectErrorEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventPairingPending:
		var m PairingPendingEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventPairingIncoming:
		var m PairingIncomingEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventPairingReady:
		var m PairingReadyEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventPresenceSnapshot:
		var m PresenceSnapshotEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventChatNew:
		var m ChatNewEvent
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventCallFrame:
		var m CallFrameIn
		err = json.Unmarshal(env.Data, &m)
		payload = m
	case EventAuthOK, EventCallRinging, EventCallAccepted, EventCallEnded,
		EventConnect, EventDisconnect:
		payload = nil
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown server event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, payload, nil
}

// NewClientEvent creates a JSON-encoded envelope for an outbound event. The
// payload should be one of the core -> server structs; a nil payload produces
// an envelope with no data field.
func NewClientEvent(event string, payload interface{}) ([]byte, error) {
	env := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: payload}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q event: %w", event, err)
	}
	return out, nil
}
