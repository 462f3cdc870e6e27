package session

import (
	"github.com/gibberwallet/wavebridge/internal/engine"
)

// Observer receives session notifications, one at a time, in the order the
// underlying state changes happened. Methods run on the session's dispatcher
// goroutine and may call back into the session.
type Observer interface {
	Initialized(cfg engine.Config)
	MessageReceived(text string)
	ListeningStarted(ok bool)
	ListeningStopped(ok bool)
	TransmissionStarted(ok bool)
	TransmissionCompleted(ok bool, errMsg string)
	AudioLevelChanged(level float32)
	Error(err error)
}

// ObserverFuncs implements Observer with optional funcs.
type ObserverFuncs struct {
	OnInitialized           func(cfg engine.Config)
	OnMessageReceived       func(text string)
	OnListeningStarted      func(ok bool)
	OnListeningStopped      func(ok bool)
	OnTransmissionStarted   func(ok bool)
	OnTransmissionCompleted func(ok bool, errMsg string)
	OnAudioLevelChanged     func(level float32)
	OnError                 func(err error)
}

var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) Initialized(cfg engine.Config) {
	if f.OnInitialized != nil {
		f.OnInitialized(cfg)
	}
}

func (f ObserverFuncs) MessageReceived(text string) {
	if f.OnMessageReceived != nil {
		f.OnMessageReceived(text)
	}
}

func (f ObserverFuncs) ListeningStarted(ok bool) {
	if f.OnListeningStarted != nil {
		f.OnListeningStarted(ok)
	}
}

func (f ObserverFuncs) ListeningStopped(ok bool) {
	if f.OnListeningStopped != nil {
		f.OnListeningStopped(ok)
	}
}

func (f ObserverFuncs) TransmissionStarted(ok bool) {
	if f.OnTransmissionStarted != nil {
		f.OnTransmissionStarted(ok)
	}
}

func (f ObserverFuncs) TransmissionCompleted(ok bool, errMsg string) {
	if f.OnTransmissionCompleted != nil {
		f.OnTransmissionCompleted(ok, errMsg)
	}
}

func (f ObserverFuncs) AudioLevelChanged(level float32) {
	if f.OnAudioLevelChanged != nil {
		f.OnAudioLevelChanged(level)
	}
}

func (f ObserverFuncs) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}
