package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/transport/transporttest"
)

// fakeSession satisfies Session with a settable room.
type fakeSession struct {
	room string
}

func (f *fakeSession) ActiveRoom() string { return f.room }

// fakePeers satisfies PeerCounter with a settable count.
type fakePeers struct {
	count int
}

func (f *fakePeers) PeerCount() int { return f.count }

// fakeCapture satisfies CaptureSource with scripted results.
type fakeCapture struct {
	mu    sync.Mutex
	data  string
	err   error
	calls int
}

func (f *fakeCapture) Capture(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data, f.err
}

func (f *fakeCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newMachine(t *testing.T, peerCount int) (*Machine, *transporttest.Fake, *fakeCapture) {
	t.Helper()
	tr := transporttest.New()
	tr.SetConnected(true)
	sess := &fakeSession{room: "call:general"}
	capture := &fakeCapture{data: "frame-bytes"}
	relay := NewRelay(tr, sess, capture)
	m := NewMachine(tr, sess, &fakePeers{count: peerCount}, relay)
	m.Start()
	t.Cleanup(m.Stop)
	return m, tr, capture
}

func TestPlaceCall_NoPeer(t *testing.T) {
	m, tr, _ := newMachine(t, 1)

	if err := m.PlaceCall(); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
	if m.Status() != Idle {
		t.Errorf("expected Idle after rejected call, got %v", m.Status())
	}
	if len(tr.EmittedNamed(protocol.EventCallInvite)) != 0 {
		t.Error("rejected call must not emit an invite")
	}
}

func TestPlaceCall_WithPeer(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	if err := m.PlaceCall(); err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if m.Status() != Ringing {
		t.Errorf("expected Ringing, got %v", m.Status())
	}

	invites := tr.EmittedNamed(protocol.EventCallInvite)
	if len(invites) != 1 {
		t.Fatalf("expected exactly 1 invite, got %d", len(invites))
	}
	if invites[0].Payload.(protocol.CallInviteEvent).Room != "call:general" {
		t.Errorf("unexpected invite payload: %+v", invites[0].Payload)
	}

	// A second PlaceCall while Ringing is invalid.
	if err := m.PlaceCall(); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
}

func TestAcceptedWhileIdle_NoOp(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	tr.Receive(protocol.EventCallAccepted, nil)

	if m.Status() != Idle {
		t.Errorf("stale accepted must not change state, got %v", m.Status())
	}
	if m.relay.Running() {
		t.Error("stale accepted must not start the relay timer")
	}
}

func TestCalleeFlow(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	tr.Receive(protocol.EventCallRinging, nil)
	if m.Status() != Ringing {
		t.Fatalf("expected Ringing, got %v", m.Status())
	}

	if err := m.Accept(); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if m.Status() != InCall {
		t.Errorf("expected InCall, got %v", m.Status())
	}
	if len(tr.EmittedNamed(protocol.EventCallAccept)) != 1 {
		t.Error("expected one call:accept emission")
	}
	if !m.relay.Running() {
		t.Error("expected relay running while InCall")
	}
}

func TestAccept_RequiresRinging(t *testing.T) {
	m, _, _ := newMachine(t, 2)

	if err := m.Accept(); !errors.Is(err, ErrNotRinging) {
		t.Errorf("expected ErrNotRinging, got %v", err)
	}
}

func TestCallerFlow_RemoteAccepted(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	m.PlaceCall()
	tr.Receive(protocol.EventCallAccepted, nil)

	if m.Status() != InCall {
		t.Fatalf("expected InCall after remote accept, got %v", m.Status())
	}
	if !m.relay.Running() {
		t.Error("expected relay running after remote accept")
	}
}

func TestHangupResetsEverything(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	m.PlaceCall()
	tr.Receive(protocol.EventCallAccepted, nil)
	tr.Receive(protocol.EventCallFrame, protocol.CallFrameIn{Data: "remote-frame"})

	if _, ok := m.RemoteFrame(); !ok {
		t.Fatal("expected a remote frame before hangup")
	}

	m.Hangup()

	if m.Status() != Idle {
		t.Errorf("expected Idle after hangup, got %v", m.Status())
	}
	if m.relay.Running() {
		t.Error("relay timer leaked past hangup")
	}
	if _, ok := m.RemoteFrame(); ok {
		t.Error("remote frame not cleared on hangup")
	}
	if len(tr.EmittedNamed(protocol.EventCallHangup)) != 1 {
		t.Error("expected one call:hangup emission")
	}

	// Hangup while Idle is a no-op.
	tr.Reset()
	m.Hangup()
	if len(tr.Emitted()) != 0 {
		t.Error("hangup while Idle must not emit")
	}
}

// endedMidEmit delivers a remote hangup while the accept emission is still
// in flight, the way a slow network write lets a call:ended overtake it.
type endedMidEmit struct {
	*transporttest.Fake
}

func (e *endedMidEmit) Emit(event string, payload interface{}) error {
	if event == protocol.EventCallAccept {
		e.Fake.Receive(protocol.EventCallEnded, nil)
	}
	return e.Fake.Emit(event, payload)
}

func TestRemoteEndedDuringAccept(t *testing.T) {
	fake := transporttest.New()
	fake.SetConnected(true)
	tr := &endedMidEmit{Fake: fake}
	sess := &fakeSession{room: "call:general"}
	relay := NewRelay(tr, sess, &fakeCapture{data: "frame-bytes"})
	m := NewMachine(tr, sess, &fakePeers{count: 2}, relay)
	m.Start()
	t.Cleanup(m.Stop)

	fake.Receive(protocol.EventCallRinging, nil)
	if err := m.Accept(); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}

	if m.Status() != Idle {
		t.Errorf("expected Idle after mid-accept ending, got %v", m.Status())
	}
	if relay.Running() {
		t.Error("relay timer survived the InCall->Idle transition")
	}
}

func TestRemoteEnded(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	tr.Receive(protocol.EventCallRinging, nil)
	m.Accept()
	tr.Receive(protocol.EventCallEnded, nil)

	if m.Status() != Idle {
		t.Errorf("expected Idle after remote end, got %v", m.Status())
	}
	if m.relay.Running() {
		t.Error("relay timer leaked past remote end")
	}
}

func TestLateFrameOverwritesHarmlessly(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	// Frames are stored in any state; the next reset clears them.
	tr.Receive(protocol.EventCallFrame, protocol.CallFrameIn{Data: "late"})
	if frame, ok := m.RemoteFrame(); !ok || frame != "late" {
		t.Errorf("expected late frame stored, got %q ok=%v", frame, ok)
	}
	if m.Status() != Idle {
		t.Errorf("a frame must not change state, got %v", m.Status())
	}
}

func TestStopTearsDownCall(t *testing.T) {
	m, tr, _ := newMachine(t, 2)

	m.PlaceCall()
	tr.Receive(protocol.EventCallAccepted, nil)
	m.Stop()

	if m.relay.Running() {
		t.Error("relay timer leaked past Stop")
	}
	if m.Status() != Idle {
		t.Errorf("expected Idle after Stop, got %v", m.Status())
	}

	// Subscriptions are released.
	tr.Receive(protocol.EventCallRinging, nil)
	if m.Status() != Idle {
		t.Error("events after Stop must be ignored")
	}
}
