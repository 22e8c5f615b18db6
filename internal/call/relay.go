package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/huddle/session-core/internal/metrics"
	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/ratelimit"
	"github.com/huddle/session-core/internal/transport"
)

// ErrPermissionDenied is returned by a CaptureSource when the user has not
// authorized capture. It halts the relay loop; re-authorization and a fresh
// Start are required before frames flow again.
var ErrPermissionDenied = errors.New("call: capture permission denied")

const (
	// FrameInterval is the relay cadence, ~1.5 frames per second. Fixed,
	// not adaptive to network conditions.
	FrameInterval = 666 * time.Millisecond

	// captureTimeout bounds each capture attempt; a slow source skips the
	// tick rather than stalling the loop.
	captureTimeout = 1 * time.Second
)

// CaptureSource produces one encoded frame per call. Implementations decide
// the encoding; the relay forwards the blob verbatim.
type CaptureSource interface {
	Capture(ctx context.Context) (string, error)
}

// Relay is the timer-driven capture-and-send cycle. At most one cycle runs
// per call session: Start while running is a no-op, so a local accept and a
// remote accepted event racing each other can never double the timer.
type Relay struct {
	tr      transport.Transport
	sess    Session
	capture CaptureSource
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	running bool
	done    chan struct{}

	// PermissionDenied, when set, is invoked after a capture attempt is
	// rejected for authorization and the loop has halted. The collaborator
	// prompts the user; this core only signals.
	PermissionDenied func()
}

// NewRelay creates a Relay bound to the given transport, session and capture
// source.
func NewRelay(tr transport.Transport, sess Session, capture CaptureSource) *Relay {
	return &Relay{
		tr:      tr,
		sess:    sess,
		capture: capture,
		limiter: ratelimit.NewLimiter(ratelimit.RuleFrames),
	}
}

// Start begins the capture cycle. Idempotent: a second Start while running
// is a no-op.
func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.done = make(chan struct{})
	go r.loop(r.done)
	log.Printf("[relay] started (interval=%s)", FrameInterval)
}

// Stop cancels the timer and clears the handle. Idempotent: stopping a
// stopped or never-started relay is a no-op.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.done)
	r.done = nil
	log.Printf("[relay] stopped")
}

// Running reports whether the capture cycle is active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// loop runs ticks at the relay cadence until the done channel closes.
func (r *Relay) loop(done chan struct{}) {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !r.tick() {
				return
			}
		}
	}
}

// tick captures one frame and emits it tagged with the active room. Capture
// failures skip the tick; permission denial halts the loop entirely.
// Returns false when the loop should exit.
func (r *Relay) tick() bool {
	if !r.limiter.Allow() {
		metrics.FramesTotal.WithLabelValues("skipped").Inc()
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	start := time.Now()
	data, err := r.capture.Capture(ctx)
	cancel()
	metrics.CaptureLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, ErrPermissionDenied) {
		log.Printf("[relay] capture permission denied; halting")
		r.Stop()
		if r.PermissionDenied != nil {
			r.PermissionDenied()
		}
		return false
	}
	if err != nil || data == "" {
		metrics.FramesTotal.WithLabelValues("skipped").Inc()
		return true
	}

	room := r.sess.ActiveRoom()
	if err := r.tr.Emit(protocol.EventCallFrame, protocol.CallFrameOut{Room: room, Data: data}); err != nil {
		log.Printf("[relay] frame emit failed: %v", err)
		metrics.FramesTotal.WithLabelValues("skipped").Inc()
		return true
	}
	metrics.FramesTotal.WithLabelValues("sent").Inc()
	return true
}
