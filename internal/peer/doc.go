// Package peer runs a scripted counterpart on a modem session: it listens,
// answers each decoded frame, and goes back to listening. It stands in for
// the wallet side when exercising a bridge without a second device.
package peer
