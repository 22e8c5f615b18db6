package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/huddle/session-core/internal/call"
	"github.com/huddle/session-core/internal/history"
	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/session"
	"github.com/huddle/session-core/internal/storage"
	"github.com/huddle/session-core/internal/transport/transporttest"
)

type stubCapture struct{}

func (stubCapture) Capture(context.Context) (string, error) { return "frame", nil }

func newCore(t *testing.T) (*Core, *transporttest.Fake, *storage.Memory) {
	t.Helper()
	tr := transporttest.New()
	tr.SetConnected(true)
	st := storage.NewMemory()
	c := New(tr, st, stubCapture{}, Config{Identity: "user-1", FallbackRoom: "lobby"})
	c.Start()
	t.Cleanup(c.Close)
	return c, tr, st
}

func TestStartReplaysSessionSetup(t *testing.T) {
	_, tr, _ := newCore(t)

	var events []string
	for _, e := range tr.Emitted() {
		events = append(events, e.Event)
	}
	want := []string{protocol.EventRegister, protocol.EventJoin, protocol.EventPresenceRequest}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestPresenceSnapshotFeedsTracker(t *testing.T) {
	c, tr, _ := newCore(t)

	tr.Receive(protocol.EventPresenceSnapshot, protocol.PresenceSnapshotEvent{
		Room: "lobby",
		Peers: []protocol.WirePeer{
			{SID: "s1", UserID: "user-1"},
			{SID: "s2", UserID: "user-2"},
		},
	})

	peers := c.Peers()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[1].UserID != "user-2" {
		t.Errorf("unexpected peer order: %+v", peers)
	}
	if peer, ok := c.FirstOtherPeer(); !ok || peer.UserID != "user-2" {
		t.Errorf("expected first other peer user-2, got %+v ok=%v", peer, ok)
	}

	// A snapshot for another room is stale and must not apply.
	tr.Receive(protocol.EventPresenceSnapshot, protocol.PresenceSnapshotEvent{
		Room:  "elsewhere",
		Peers: nil,
	})
	if len(c.Peers()) != 2 {
		t.Error("stale snapshot replaced the peer list")
	}
}

func TestIncomingChatLandsInHistory(t *testing.T) {
	c, tr, _ := newCore(t)

	tr.Receive(protocol.EventChatNew, protocol.ChatNewEvent{
		Room: "lobby", ID: "m1", AuthorID: "user-2", CreatedAt: 42, Text: "hi",
	})

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestSendMessageRoundTrip(t *testing.T) {
	c, tr, _ := newCore(t)

	msg, err := c.SendMessage("  hello  ")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("expected trimmed text, got %q", msg.Text)
	}

	sends := tr.EmittedNamed(protocol.EventChatSend)
	if len(sends) != 1 {
		t.Fatalf("expected 1 chat:send, got %d", len(sends))
	}
	if len(c.Messages()) != 1 {
		t.Fatalf("expected optimistic local copy, got %d messages", len(c.Messages()))
	}

	// The server echo merges into the optimistic copy instead of appending.
	tr.Receive(protocol.EventChatNew, protocol.ChatNewEvent{
		Room: "lobby", ID: msg.ID, AuthorID: "user-1", CreatedAt: 99, Text: "hello",
	})
	if got := len(c.Messages()); got != 1 {
		t.Fatalf("echo duplicated the message: %d entries", got)
	}
	if c.Messages()[0].CreatedAt != 99 {
		t.Errorf("echo timestamp did not win: %+v", c.Messages()[0])
	}
}

func TestPairingSwitchResetsRoomState(t *testing.T) {
	tr := transporttest.New()
	tr.SetConnected(true)
	st := storage.NewMemory()

	// Seed durable history for the pairing room.
	seeded, _ := json.Marshal([]history.Message{
		{ID: "old-1", AuthorID: "user-2", CreatedAt: 1, Text: "earlier"},
	})
	st.Set(context.Background(), history.StorageKey("pair:ab"), seeded)

	c := New(tr, st, stubCapture{}, Config{Identity: "user-1", FallbackRoom: "lobby"})
	var incomingFrom string
	c.PairingIncoming = func(from string) { incomingFrom = from }
	c.Start()
	t.Cleanup(c.Close)

	// Populate lobby state that must not survive the switch.
	tr.Receive(protocol.EventPresenceSnapshot, protocol.PresenceSnapshotEvent{
		Room:  "lobby",
		Peers: []protocol.WirePeer{{SID: "s1", UserID: "user-1"}},
	})
	tr.Receive(protocol.EventChatNew, protocol.ChatNewEvent{
		Room: "lobby", ID: "m1", AuthorID: "user-1", CreatedAt: 2, Text: "lobby talk",
	})

	tr.Receive(protocol.EventPairingIncoming, protocol.PairingIncomingEvent{
		Room: "pair:ab", FromUserID: "user-2",
	})

	if c.ActiveRoom() != "pair:ab" {
		t.Fatalf("expected active room pair:ab, got %q", c.ActiveRoom())
	}
	if incomingFrom != "user-2" {
		t.Errorf("expected incoming callback from user-2, got %q", incomingFrom)
	}
	if len(c.Peers()) != 0 {
		t.Error("peer list not reset on room switch")
	}

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "old-1" {
		t.Errorf("expected seeded pairing history, got %+v", msgs)
	}

	// The fallback room is never left on a first pairing; only a previous
	// pairing room would be.
	if len(tr.EmittedNamed(protocol.EventLeave)) != 0 {
		t.Error("unexpected leave entering the first pairing room")
	}
	if len(tr.EmittedNamed(protocol.EventPairingJoin)) != 1 {
		t.Error("expected one pairing:join")
	}
}

func TestCallThroughCore(t *testing.T) {
	c, tr, _ := newCore(t)

	tr.Receive(protocol.EventPresenceSnapshot, protocol.PresenceSnapshotEvent{
		Room: "lobby",
		Peers: []protocol.WirePeer{
			{SID: "s1", UserID: "user-1"},
			{SID: "s2", UserID: "user-2"},
		},
	})

	if err := c.PlaceCall(); err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if c.CallStatus() != call.Ringing {
		t.Fatalf("expected Ringing, got %v", c.CallStatus())
	}

	tr.Receive(protocol.EventCallAccepted, nil)
	if c.CallStatus() != call.InCall {
		t.Fatalf("expected InCall, got %v", c.CallStatus())
	}

	tr.Receive(protocol.EventCallFrame, protocol.CallFrameIn{Data: "remote"})
	if frame, ok := c.RemoteFrame(); !ok || frame != "remote" {
		t.Errorf("expected remote frame, got %q ok=%v", frame, ok)
	}

	c.Hangup()
	if c.CallStatus() != call.Idle {
		t.Errorf("expected Idle after hangup, got %v", c.CallStatus())
	}
}

func TestDisconnectResetsPresence(t *testing.T) {
	c, tr, _ := newCore(t)

	tr.Receive(protocol.EventPresenceSnapshot, protocol.PresenceSnapshotEvent{
		Room:  "lobby",
		Peers: []protocol.WirePeer{{SID: "s1", UserID: "user-1"}},
	})
	tr.SetConnected(false)

	if len(c.Peers()) != 0 {
		t.Error("peer list survived a disconnect")
	}
	if c.ConnectionState() != session.Disconnected {
		t.Errorf("expected Disconnected, got %v", c.ConnectionState())
	}
}

func TestCloseLeavesRoom(t *testing.T) {
	tr := transporttest.New()
	tr.SetConnected(true)
	c := New(tr, storage.NewMemory(), stubCapture{}, Config{Identity: "user-1", FallbackRoom: "lobby"})
	c.Start()

	tr.Reset()
	c.Close()

	if len(tr.EmittedNamed(protocol.EventLeave)) != 1 {
		t.Error("expected one leave on Close")
	}

	// Events after Close must be ignored.
	tr.Receive(protocol.EventChatNew, protocol.ChatNewEvent{
		Room: "lobby", ID: "late", AuthorID: "user-2", CreatedAt: 1, Text: "late",
	})
	if len(c.Messages()) != 0 {
		t.Error("history mutated after Close")
	}
}
