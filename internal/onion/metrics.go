package onion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umbra_onion_frames_sent_total",
		Help: "Frames handed to the transport for delivery.",
	})
	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umbra_onion_frames_received_total",
		Help: "Frames accepted from either hidden service.",
	})
	framesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umbra_onion_frames_rejected_total",
		Help: "Inbound connections dropped before a frame was accepted.",
	})
	dialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umbra_onion_dial_failures_total",
		Help: "Failed dials to peer hidden services.",
	})
)
