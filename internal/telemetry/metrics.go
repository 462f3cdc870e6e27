package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavebridge_events_published_total",
			Help: "Events published to subscribers, by event type",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavebridge_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
		[]string{"transport"},
	)

	subscribersGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wavebridge_event_subscribers",
			Help: "Connected event subscribers",
		},
		[]string{"transport"},
	)
)
