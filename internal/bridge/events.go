package bridge

// Event names emitted to the host.
const (
	EventInitialized           = "onInitialized"
	EventMessageReceived       = "onMessageReceived"
	EventListeningStarted      = "onListeningStarted"
	EventListeningStopped      = "onListeningStopped"
	EventTransmissionStarted   = "onTransmissionStarted"
	EventTransmissionCompleted = "onTransmissionCompleted"
	EventAudioLevelChanged     = "onAudioLevelChanged"
	EventError                 = "onError"
	EventConnectionEstablished = "onConnectionEstablished"
)

// SupportedEvents lists every event name the bridge may emit.
var SupportedEvents = []string{
	EventInitialized,
	EventMessageReceived,
	EventListeningStarted,
	EventListeningStopped,
	EventTransmissionStarted,
	EventTransmissionCompleted,
	EventAudioLevelChanged,
	EventError,
	EventConnectionEstablished,
}

// EventSink receives bridge events. Emit must not block for long; it runs
// on the session's notification goroutine.
type EventSink interface {
	Emit(name string, body map[string]interface{})
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(name string, body map[string]interface{})

// Emit implements EventSink.
func (f SinkFunc) Emit(name string, body map[string]interface{}) {
	f(name, body)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(name string, body map[string]interface{}) {
	for _, s := range m {
		if s != nil {
			s.Emit(name, body)
		}
	}
}
