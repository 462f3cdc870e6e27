// Package bridge exposes a session to a host runtime.
//
// Every command returns a Promise. Queries settle immediately; actions
// settle when the session notification that confirms them arrives. Session
// notifications are re-emitted, in order, as named events on an EventSink.
package bridge
