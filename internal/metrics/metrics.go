// Package metrics provides Prometheus instrumentation for the session core.
// It exposes gauges for connection and call state, counters for message and
// frame throughput, and a histogram for frame capture latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connected reports whether the transport currently holds a live
	// connection (1) or not (0).
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_connected",
		Help: "Whether the realtime transport is currently connected",
	})

	// MessagesTotal counts the messages flowing through the history store,
	// labeled by outcome: "sent", "merged", or "dropped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"}) // outcome = "sent", "merged", "dropped"

	// FramesTotal counts call frames, labeled by direction: "sent",
	// "received", or "skipped" (capture failed or throttled).
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_frames_total",
		Help: "Total number of call frames processed",
	}, []string{"direction"}) // direction = "sent", "received", "skipped"

	// CaptureLatency records frame capture latency in seconds.
	CaptureLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "huddle_capture_latency_seconds",
		Help:    "Frame capture latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CallState reports the call signaling state: 0 idle, 1 ringing,
	// 2 in-call.
	CallState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_call_state",
		Help: "Current call state (0=idle, 1=ringing, 2=in-call)",
	})

	// RoomPeers reports the peer count of the active room's latest
	// presence snapshot.
	RoomPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_room_peers",
		Help: "Peer count in the active room per the latest presence snapshot",
	})
)

func init() {
	prometheus.MustRegister(
		Connected,
		MessagesTotal,
		FramesTotal,
		CaptureLatency,
		CallState,
		RoomPeers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
