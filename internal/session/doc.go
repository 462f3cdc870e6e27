// Package session implements the audio session adapter.
//
// A Session owns at most one modem engine and exposes it as a synchronous
// facade: initialize, listen, transmit, cleanup. Engine callbacks and state
// transitions are turned into notifications for a single observer. The
// session never has listening and transmitting true at the same time.
package session
