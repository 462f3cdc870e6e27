package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavebridge_session_operations_total",
			Help: "Total number of session operations by result code",
		},
		[]string{"op", "result"},
	)

	messagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wavebridge_messages_received_total",
			Help: "Total number of messages decoded while listening",
		},
	)

	transmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavebridge_transmissions_total",
			Help: "Total number of finished transmissions by result",
		},
		[]string{"result"},
	)

	audioLevelGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wavebridge_audio_level",
			Help: "Most recent input level reported by the engine",
		},
	)

	listeningGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wavebridge_session_listening",
			Help: "1 while the session is capturing",
		},
	)

	transmittingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wavebridge_session_transmitting",
			Help: "1 while a transmission is pending",
		},
	)
)

func recordOperation(op string, err error) {
	result := "SUCCESS"
	if err != nil {
		result = codeOf(err)
	}
	sessionOperationsTotal.WithLabelValues(op, result).Inc()
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
