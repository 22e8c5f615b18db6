package call

import (
	"errors"
	"testing"
	"time"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/ratelimit"
	"github.com/huddle/session-core/internal/transport/transporttest"
)

func newRelay(t *testing.T) (*Relay, *transporttest.Fake, *fakeCapture) {
	t.Helper()
	tr := transporttest.New()
	tr.SetConnected(true)
	capture := &fakeCapture{data: "frame-bytes"}
	r := NewRelay(tr, &fakeSession{room: "call:general"}, capture)
	t.Cleanup(r.Stop)
	return r, tr, capture
}

func TestRelayStopIdempotent(t *testing.T) {
	r, _, _ := newRelay(t)

	// Never started.
	r.Stop()
	r.Stop()
	if r.Running() {
		t.Fatal("relay running without Start")
	}

	r.Start()
	if !r.Running() {
		t.Fatal("relay not running after Start")
	}
	r.Stop()
	r.Stop()
	if r.Running() {
		t.Fatal("relay still running after Stop")
	}
}

func TestRelayStartIdempotent(t *testing.T) {
	r, _, _ := newRelay(t)

	r.Start()
	r.Start()
	if !r.Running() {
		t.Fatal("relay not running after double Start")
	}
	r.Stop()
	if r.Running() {
		t.Fatal("one Stop must cancel however many Starts")
	}
}

func TestRelayTickEmitsFrame(t *testing.T) {
	r, tr, capture := newRelay(t)

	if !r.tick() {
		t.Fatal("tick reported loop exit")
	}
	if capture.callCount() != 1 {
		t.Fatalf("expected 1 capture, got %d", capture.callCount())
	}

	frames := tr.EmittedNamed(protocol.EventCallFrame)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame emitted, got %d", len(frames))
	}
	out := frames[0].Payload.(protocol.CallFrameOut)
	if out.Room != "call:general" || out.Data != "frame-bytes" {
		t.Errorf("unexpected frame payload: %+v", out)
	}
}

func TestRelayTickRateLimited(t *testing.T) {
	r, tr, _ := newRelay(t)

	for i := 0; i < 5; i++ {
		if !r.tick() {
			t.Fatal("tick reported loop exit")
		}
	}
	// RuleFrames allows 2 per window; the rest of the burst is skipped.
	if got := len(tr.EmittedNamed(protocol.EventCallFrame)); got != ratelimit.RuleFrames.Limit {
		t.Errorf("expected %d frames in one window, got %d", ratelimit.RuleFrames.Limit, got)
	}
}

func TestRelayTickSkipsFailures(t *testing.T) {
	r, tr, capture := newRelay(t)

	capture.err = errors.New("camera busy")
	if !r.tick() {
		t.Fatal("a transient capture failure must not exit the loop")
	}

	capture.err = nil
	capture.data = ""
	if !r.tick() {
		t.Fatal("an empty frame must not exit the loop")
	}

	if len(tr.EmittedNamed(protocol.EventCallFrame)) != 0 {
		t.Error("failed captures must not emit frames")
	}
}

func TestRelayPermissionDeniedHalts(t *testing.T) {
	r, tr, capture := newRelay(t)
	capture.err = ErrPermissionDenied

	denied := false
	r.PermissionDenied = func() { denied = true }

	r.Start()
	waitForStopped(t, r)

	if !denied {
		t.Error("expected the permission callback")
	}
	if len(tr.EmittedNamed(protocol.EventCallFrame)) != 0 {
		t.Error("denied captures must not emit frames")
	}

	// A fresh Start is required before frames flow again; the halted
	// relay does not restart itself.
	if r.Running() {
		t.Error("relay restarted itself after a denial")
	}
}

func waitForStopped(t *testing.T, r *Relay) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !r.Running() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("relay never halted")
}
