// Package engine defines the acoustic modem engine port for wavebridge.
//
// An Engine is the external modem (encoding text into sound, capturing and
// decoding it back). wavebridge never implements modulation itself; drivers
// implement this interface and report asynchronous outcomes through
// Callbacks.
//
// Errors returned by drivers are normalized to a small set of stable codes
// (see errors.go) before they reach the host runtime.
package engine
